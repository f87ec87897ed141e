package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/service"
	"github.com/and161185/timesync/internal/timesheet"
)

const commandTimeout = 30 * time.Second

// run executes one subcommand.
func (a *app) run(ctx context.Context, cmd string, args []string) error {
	if cmd != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, commandTimeout)
		defer cancel()
	}

	switch cmd {
	case "version":
		fmt.Fprintf(a.out, "timesync %s (%s)\n", version, buildDate)
		return nil
	case "calc":
		return a.calc(args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		a.auth.Logout()
		fmt.Fprintln(a.out, "ok")
		return nil
	}

	if err := a.requireSession(ctx); err != nil {
		return err
	}

	switch cmd {
	case "whoami":
		return a.whoami()
	case "refresh":
		if !a.auth.Refresh(ctx) {
			return fmt.Errorf("%w: token refresh failed", errs.ErrAuthRequired)
		}
		fmt.Fprintln(a.out, "ok")
		return nil
	case "customers":
		return a.customers(ctx, args)
	case "customer":
		return a.customer(ctx, args)
	case "users":
		return a.users(ctx, args)
	case "inbox":
		return a.inbox(ctx, args)
	case "send":
		return a.send(ctx, args)
	case "read", "archive", "msg-rm":
		return a.message(ctx, cmd, args)
	case "hours":
		return a.hours(ctx, args)
	case "products":
		return a.products(ctx, args)
	case "assign":
		return a.assign(ctx, args)
	case "unassign":
		id, err := requireID("unassign", args)
		if err != nil {
			return err
		}
		return a.done(a.store.UnassignCustomer(ctx, id))
	case "export":
		return a.export(ctx, args)
	case "watch":
		return a.watch(ctx, args)
	}
	return fmt.Errorf("%w: unknown command %q", errs.ErrInvalidInput, cmd)
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrInvalidInput, fs.Name(), err)
	}
	return nil
}

func need(name string, vals ...string) error {
	for _, v := range vals {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s: missing required flag", errs.ErrInvalidInput, name)
		}
	}
	return nil
}

func requireID(name string, args []string) (string, error) {
	fs := newFlags(name)
	id := fs.String("id", "", "record id")
	if err := parse(fs, args); err != nil {
		return "", err
	}
	if err := need(name+" -id", *id); err != nil {
		return "", err
	}
	return *id, nil
}

func (a *app) done(err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

// splitSub peels an optional verb such as "add" off args.
func splitSub(args []string, def string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return def, args
	}
	return args[0], args[1:]
}

// ---- auth ----

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlags("login")
	id := fs.String("u", "", "email or username")
	pw := fs.String("p", os.Getenv("TIMESYNC_PASSWORD"), "password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := a.auth.Login(ctx, *id, *pw); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s\n", a.auth.Session().Get().DisplayName())
	return nil
}

func (a *app) whoami() error {
	s := a.auth.Session().Get()
	u := s.User
	role := "user"
	if s.IsAdmin() {
		role = "admin"
	}
	tw := newTable(a.out)
	tw.row("Name", s.DisplayName())
	tw.row("Email", u.Email)
	tw.row("ID", u.ID)
	tw.row("Role", role)
	tw.row("State", s.State.String())
	return tw.flush()
}

// ---- customers ----

func (a *app) customers(ctx context.Context, args []string) error {
	fs := newFlags("customers")
	assigned := fs.Bool("assigned", false, "only customers assigned to me")
	asJSON := fs.Bool("json", false, "JSON output")
	if err := parse(fs, args); err != nil {
		return err
	}

	var (
		list []model.Customer
		err  error
	)
	if *assigned {
		list, err = a.store.AssignedCustomers(ctx, false)
	} else {
		list, err = a.store.FetchCustomers(ctx, false)
	}
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(a.out, list)
	}
	tw := newTable(a.out)
	tw.row("ID", "NAME", "CVR", "EMAIL", "PHONE")
	for _, c := range list {
		tw.row(c.ID, c.Name, c.CVR, c.Email, c.Phone)
	}
	return tw.flush()
}

func (a *app) customer(ctx context.Context, args []string) error {
	verb, rest := splitSub(args, "")
	if verb == "rm" {
		id, err := requireID("customer rm", rest)
		if err != nil {
			return err
		}
		return a.done(a.store.DeleteCustomer(ctx, id))
	}

	fs := newFlags("customer " + verb)
	id := fs.String("id", "", "customer id (edit)")
	var in model.CustomerInput
	fs.StringVar(&in.Name, "name", "", "name")
	fs.StringVar(&in.CVR, "cvr", "", "CVR number")
	fs.StringVar(&in.Email, "email", "", "email")
	fs.StringVar(&in.Phone, "phone", "", "phone")
	fs.StringVar(&in.Address, "address", "", "address")
	if err := parse(fs, rest); err != nil {
		return err
	}

	var (
		c   model.Customer
		err error
	)
	switch verb {
	case "add":
		c, err = a.store.CreateCustomer(ctx, in)
	case "edit":
		if err := need("customer edit -id", *id); err != nil {
			return err
		}
		c, err = a.store.UpdateCustomer(ctx, *id, customerPatch(fs, in))
	default:
		return fmt.Errorf("%w: customer needs add, edit or rm", errs.ErrInvalidInput)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, c.ID)
	return nil
}

// customerPatch keeps only the flags given on the command line.
func customerPatch(fs *flag.FlagSet, in model.CustomerInput) model.CustomerPatch {
	var p model.CustomerPatch
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			p.Name = &in.Name
		case "cvr":
			p.CVR = &in.CVR
		case "email":
			p.Email = &in.Email
		case "phone":
			p.Phone = &in.Phone
		case "address":
			p.Address = &in.Address
		}
	})
	return p
}

func (a *app) assign(ctx context.Context, args []string) error {
	fs := newFlags("assign")
	user := fs.String("user", "", "user id")
	customer := fs.String("customer", "", "customer id")
	if err := parse(fs, args); err != nil {
		return err
	}
	as, err := a.store.AssignCustomer(ctx, *user, *customer)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, as.ID)
	return nil
}

// ---- users & messages ----

func (a *app) users(ctx context.Context, args []string) error {
	fs := newFlags("users")
	asJSON := fs.Bool("json", false, "JSON output")
	if err := parse(fs, args); err != nil {
		return err
	}
	list, err := a.store.FetchUsers(ctx, false)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(a.out, list)
	}
	tw := newTable(a.out)
	tw.row("ID", "NAME", "EMAIL", "ROLE")
	for _, u := range list {
		tw.row(u.ID, u.DisplayName(), u.Email, u.Role)
	}
	return tw.flush()
}

func (a *app) inbox(ctx context.Context, args []string) error {
	fs := newFlags("inbox")
	read := fs.Bool("read", false, "read messages")
	archived := fs.Bool("archived", false, "archived messages")
	asJSON := fs.Bool("json", false, "JSON output")
	if err := parse(fs, args); err != nil {
		return err
	}

	fetch := a.store.FetchMessages
	switch {
	case *read && *archived:
		return fmt.Errorf("%w: -read and -archived are exclusive", errs.ErrInvalidInput)
	case *read:
		fetch = a.store.FetchReadMessages
	case *archived:
		fetch = a.store.FetchArchivedMessages
	}
	list, err := fetch(ctx, false)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(a.out, list)
	}
	tw := newTable(a.out)
	tw.row("ID", "FROM", "SUBJECT", "CREATED")
	for _, m := range list {
		tw.row(m.ID, m.SenderName(), m.Subject, m.Created)
	}
	return tw.flush()
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := newFlags("send")
	var in model.MessageInput
	fs.StringVar(&in.Recipient, "to", "", "recipient user id")
	fs.StringVar(&in.Subject, "subject", "", "subject")
	fs.StringVar(&in.Content, "body", "", "message text")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := need("send -to -subject", in.Recipient, in.Subject); err != nil {
		return err
	}
	m, err := a.store.CreateMessage(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, m.ID)
	return nil
}

func (a *app) message(ctx context.Context, cmd string, args []string) error {
	id, err := requireID(cmd, args)
	if err != nil {
		return err
	}
	switch cmd {
	case "read":
		_, err = a.store.MarkMessageRead(ctx, id)
	case "archive":
		_, err = a.store.ArchiveMessage(ctx, id)
	default:
		err = a.store.DeleteMessage(ctx, id)
	}
	return a.done(err)
}

// ---- hours & products ----

func (a *app) hours(ctx context.Context, args []string) error {
	verb, rest := splitSub(args, "list")
	switch verb {
	case "list":
		fs := newFlags("hours list")
		period := fs.String("period", "", "YYYY or YYYY-MM")
		user := fs.String("user", "", "user name")
		asJSON := fs.Bool("json", false, "JSON output")
		if err := parse(fs, rest); err != nil {
			return err
		}
		logs, err := a.store.FetchHourLogs(ctx, false)
		if err != nil {
			return err
		}
		logs = filterHours(logs, *period, *user)
		if *asJSON {
			return printJSON(a.out, logs)
		}
		tw := newTable(a.out)
		tw.row("ID", "DATE", "CUSTOMER", "START", "END", "HOURS", "PRICE", "USER")
		for _, l := range logs {
			tw.row(l.ID, dateOnly(l.Date), l.CustomerName(), l.Start, l.End, money(l.DecimalHours), money(l.Price), l.UserName())
		}
		return tw.flush()

	case "add", "edit":
		fs := newFlags("hours " + verb)
		id := fs.String("id", "", "hour log id (edit)")
		var in model.HourLogInput
		date := ""
		if verb == "add" {
			date = time.Now().Format("2006-01-02")
		}
		fs.StringVar(&in.Date, "date", date, "date YYYY-MM-DD")
		fs.StringVar(&in.Customer, "customer", "", "customer id")
		fs.StringVar(&in.Start, "start", "", "start HH:MM")
		fs.StringVar(&in.End, "end", "", "end HH:MM")
		fs.Float64Var(&in.Hours, "hours", 0, "decimal hours (derived from -start/-end when not given)")
		fs.Float64Var(&in.Price, "price", 0, "price")
		fs.StringVar(&in.Comment, "comment", "", "comment")
		if err := parse(fs, rest); err != nil {
			return err
		}
		var (
			l   model.HourLog
			err error
		)
		if verb == "add" {
			l, err = a.store.CreateHourLog(ctx, in)
		} else {
			if err := need("hours edit -id", *id); err != nil {
				return err
			}
			l, err = a.store.UpdateHourLog(ctx, *id, hourLogPatch(fs, in))
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s h\n", l.ID, money(l.Hours))
		return nil

	case "rm":
		id, err := requireID("hours rm", rest)
		if err != nil {
			return err
		}
		return a.done(a.store.DeleteHourLog(ctx, id))
	}
	return fmt.Errorf("%w: hours %q", errs.ErrInvalidInput, verb)
}

// hourLogPatch keeps only the flags given on the command line.
func hourLogPatch(fs *flag.FlagSet, in model.HourLogInput) model.HourLogPatch {
	var p model.HourLogPatch
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "date":
			p.Date = &in.Date
		case "customer":
			p.Customer = &in.Customer
		case "start":
			p.Start = &in.Start
		case "end":
			p.End = &in.End
		case "hours":
			p.Hours = &in.Hours
		case "price":
			p.Price = &in.Price
		case "comment":
			p.Comment = &in.Comment
		}
	})
	return p
}

func (a *app) products(ctx context.Context, args []string) error {
	verb, rest := splitSub(args, "list")
	switch verb {
	case "list":
		fs := newFlags("products list")
		period := fs.String("period", "", "YYYY or YYYY-MM")
		user := fs.String("user", "", "user name")
		asJSON := fs.Bool("json", false, "JSON output")
		if err := parse(fs, rest); err != nil {
			return err
		}
		logs, err := a.store.FetchProductLogs(ctx, false)
		if err != nil {
			return err
		}
		logs = filterProducts(logs, *period, *user)
		if *asJSON {
			return printJSON(a.out, logs)
		}
		tw := newTable(a.out)
		tw.row("ID", "DATE", "CUSTOMER", "PRODUCT", "QTY", "TOTAL", "USER")
		for _, l := range logs {
			tw.row(l.ID, dateOnly(l.Created), l.CustomerName(), l.ProductName(), fmt.Sprint(l.Quantity), money(l.TotalPrice), l.UserName())
		}
		return tw.flush()

	case "add":
		fs := newFlags("products add")
		var in model.ProductLogInput
		fs.StringVar(&in.Customer, "customer", "", "customer id")
		fs.StringVar(&in.Product, "product", "", "product id")
		fs.Float64Var(&in.Quantity, "qty", 1, "quantity")
		fs.Float64Var(&in.TotalPrice, "total", 0, "total price (derived from product price when zero)")
		if err := parse(fs, rest); err != nil {
			return err
		}
		l, err := a.store.CreateProductLog(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s\n", l.ID, money(l.TotalPrice))
		return nil

	case "rm":
		id, err := requireID("products rm", rest)
		if err != nil {
			return err
		}
		return a.done(a.store.DeleteProductLog(ctx, id))
	}
	return fmt.Errorf("%w: products %q", errs.ErrInvalidInput, verb)
}

// ---- watch & calc ----

func (a *app) watch(ctx context.Context, args []string) error {
	fs := newFlags("watch")
	interval := fs.Duration("interval", 30*time.Second, "poll interval")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *interval <= 0 {
		return fmt.Errorf("%w: watch -interval must be positive", errs.ErrInvalidInput)
	}

	a.auth.StartAutoRefresh(ctx, service.DefaultAutoRefresh)
	unsub := a.store.Messages().Container().Subscribe(func(ms []model.Message) {
		if ms != nil {
			fmt.Fprintf(a.out, "%s  %d unread\n", time.Now().Format("15:04:05"), len(ms))
		}
	})
	defer unsub()

	t := time.NewTicker(*interval)
	defer t.Stop()
	for {
		if _, err := a.store.FetchMessages(ctx, true); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "poll:", err)
		}
		if !a.auth.Session().Get().IsAuthenticated() {
			return errs.ErrAuthRequired
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (a *app) calc(args []string) error {
	fs := newFlags("calc")
	start := fs.String("start", "", "start HH:MM")
	end := fs.String("end", "", "end HH:MM")
	minutes := fs.Int("minutes", -1, "duration in minutes")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *minutes >= 0 {
		fmt.Fprintln(a.out, money(timesheet.MinutesToDecimal(*minutes)))
		return nil
	}
	h, err := timesheet.HoursBetween(*start, *end)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, money(h))
	return nil
}
