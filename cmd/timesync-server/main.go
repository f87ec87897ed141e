// Command timesync-server serves the company-registry proxy and the email
// relay used by the timesheet client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/and161185/timesync/internal/cvr"
	"github.com/and161185/timesync/internal/limiter"
	"github.com/and161185/timesync/internal/mailer"
	"github.com/and161185/timesync/internal/migrate"
	"github.com/and161185/timesync/internal/repository/postgres"
	"github.com/and161185/timesync/internal/server/httpserver"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type config struct {
	Addr          string
	DSN           string
	MaxConns      int32
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CVRURL        string
	CVRCacheTTL   time.Duration
	SendGridKey   string
	FromEmail     string
	FromName      string
	SendWindow    time.Duration
	SendLimit     int
	Dev           bool
}

// loadConfig reads flags from args, defaulting each to its environment
// variable.
func loadConfig(args []string, getenv func(string) string) (config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	envInt := func(key string, def int) int {
		if n, err := strconv.Atoi(getenv(key)); err == nil {
			return n
		}
		return def
	}
	envDur := func(key string, def time.Duration) time.Duration {
		if d, err := time.ParseDuration(getenv(key)); err == nil {
			return d
		}
		return def
	}

	var c config
	fs := flag.NewFlagSet("timesync-server", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", env("ADDR", ":8080"), "listen address")
	fs.StringVar(&c.DSN, "dsn", env("DATABASE_URL", ""), "PostgreSQL DSN for the send limiter and email audit (optional)")
	c.MaxConns = int32(envInt("DB_MAX_CONNS", 0))
	fs.Func("db-max-conns", "PostgreSQL pool size (0 keeps the driver default)", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 32)
		c.MaxConns = int32(n)
		return err
	})
	fs.StringVar(&c.RedisAddr, "redis-addr", env("REDIS_ADDR", ""), "Redis address for the registry cache (optional)")
	fs.StringVar(&c.RedisPassword, "redis-password", env("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", envInt("REDIS_DB", 0), "Redis database")
	fs.StringVar(&c.CVRURL, "cvr-url", env("CVR_API_URL", cvr.DefaultBaseURL), "company registry endpoint")
	fs.DurationVar(&c.CVRCacheTTL, "cvr-cache-ttl", envDur("CVR_CACHE_TTL", cvr.DefaultCacheTTL), "registry cache TTL")
	fs.StringVar(&c.SendGridKey, "sendgrid-key", env("SENDGRID_API_KEY", ""), "SendGrid API key")
	fs.StringVar(&c.FromEmail, "from-email", env("SENDGRID_FROM_EMAIL", ""), "sender address")
	fs.StringVar(&c.FromName, "from-name", env("SENDGRID_FROM_NAME", "Grønbech Revision"), "sender name")
	fs.DurationVar(&c.SendWindow, "send-window", envDur("SEND_WINDOW", 15*time.Minute), "send limiter window")
	fs.IntVar(&c.SendLimit, "send-limit", envInt("SEND_LIMIT", 200), "emails per client IP per window")
	fs.BoolVar(&c.Dev, "dev", env("DEV", "") != "", "development logging")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if c.Addr == "" {
		return config{}, errors.New("empty listen address")
	}
	return c, nil
}

// main loads configuration, wires optional Postgres and Redis backends, and
// serves HTTP until SIGINT/SIGTERM.
func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []httpserver.Option
	opts = append(opts, httpserver.WithLogger(logger))

	if cfg.DSN != "" {
		if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			logger.Fatal("postgres open", zap.Error(err))
		}
		defer db.Close()

		opts = append(opts,
			httpserver.WithAudit(postgres.NewEmailLogRepo(db)),
			httpserver.WithLimiter(limiter.NewPG(db.Pool, cfg.SendWindow, cfg.SendLimit)),
		)
	} else {
		logger.Warn("no DSN, send limiter and email audit disabled")
	}

	cvrOpts := []cvr.Option{cvr.WithLogger(logger)}
	rdb, err := cvr.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	switch {
	case err != nil:
		logger.Warn("redis unavailable, registry cache disabled", zap.Error(err))
	case rdb != nil:
		defer func() { _ = rdb.Close() }()
		cvrOpts = append(cvrOpts, cvr.WithCache(cvr.NewRedisCache(rdb, ""), cfg.CVRCacheTTL))
	}
	registry := cvr.New(cfg.CVRURL, cvrOpts...)

	var sender mailer.Sender
	sg, err := mailer.NewSendGrid(cfg.SendGridKey, cfg.FromEmail, cfg.FromName, logger)
	if err != nil {
		logger.Warn("email relay disabled", zap.Error(err))
	} else {
		sender = sg
	}

	app := httpserver.New(registry, sender, opts...)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Warn("forced shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
