// Command timesync is a terminal client for the TimeSync timesheet backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/repository/pocketbase"
	"github.com/and161185/timesync/internal/service"
	"github.com/and161185/timesync/internal/tokenstore"
)

// DefaultURL is the hosted backend.
const DefaultURL = "https://timesync.pockethost.io"

var (
	version   = "dev"
	buildDate = "unknown"
)

// app is what every subcommand runs against.
type app struct {
	auth  *service.AuthProvider
	store *service.Store
	out   io.Writer
	log   *zap.Logger
}

func newApp(baseURL string, tokens service.TokenStore, out io.Writer, log *zap.Logger) (*app, error) {
	pb, err := pocketbase.New(baseURL, tokens, pocketbase.WithLogger(log))
	if err != nil {
		return nil, err
	}
	auth := service.NewAuthProvider(pb, pb, tokens, log)
	return &app{
		auth:  auth,
		store: service.NewStore(pb, auth, service.WithStoreLogger(log)),
		out:   out,
		log:   log,
	}, nil
}

func (a *app) close() { a.store.Close() }

// requireSession restores the stored session or fails with ErrAuthRequired.
func (a *app) requireSession(ctx context.Context) error {
	if a.auth.Initialize(ctx) == nil {
		return fmt.Errorf("%w: run 'timesync login' first", errs.ErrAuthRequired)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `timesync CLI
Usage:
  timesync [-url URL] [-config DIR] [-v] <cmd> [args]

Commands:
  version
  login      -u <email|username> [-p <password>]   (or TIMESYNC_PASSWORD)
  logout
  whoami
  refresh
  customers  [-assigned] [-json]
  customer   add -name <n> [-cvr] [-email] [-phone] [-address] | edit -id <id> ... | rm -id <id>
  users      [-json]
  inbox      [-read | -archived] [-json]
  send       -to <user id> -subject <s> -body <text>
  read       -id <message id>
  archive    -id <message id>
  msg-rm     -id <message id>
  hours      [list] | add -date -customer -start -end [-price] [-comment] | edit -id ... | rm -id <id>
  products   [list] | add -customer -product -qty [-total] | rm -id <id>
  assign     -user <id> -customer <id>
  unassign   -id <assignment id>
  export     -kind hours|products|combined -format csv|xlsx [-period YYYY-MM] [-user name] [-o dir]
  watch      [-interval 30s]
  calc       -start HH:MM -end HH:MM | -minutes N
`)
	os.Exit(2)
}

// main parses global flags, restores the session store and dispatches.
func main() {
	baseURL := flag.String("url", envOr("TIMESYNC_URL", DefaultURL), "backend URL")
	cfgDir := flag.String("config", tokenstore.DefaultDir(), "session directory")
	verbose := flag.Bool("v", false, "debug logging to stderr")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}
	defer func() { _ = log.Sync() }()

	var storeOpts []tokenstore.Option
	if p := os.Getenv("TIMESYNC_PASSPHRASE"); p != "" {
		storeOpts = append(storeOpts, tokenstore.WithPassphrase(p))
	}
	tokens := tokenstore.NewFile(*cfgDir, storeOpts...)

	a, err := newApp(*baseURL, tokens, os.Stdout, log)
	if err != nil {
		fail(err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage()
		}
		fail(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	if errors.Is(err, errs.ErrAuthRequired) || errors.Is(err, errs.ErrInvalidCredentials) {
		os.Exit(3)
	}
	os.Exit(1)
}
