package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modfin/mntletter"
	"github.com/modfin/mntletter/internal/clix"
	"github.com/modfin/mntletter/internal/compose"
	"github.com/modfin/mntletter/internal/config"
	"github.com/modfin/mntletter/internal/dao"
	"github.com/modfin/mntletter/internal/guard"
	"github.com/modfin/mntletter/internal/lists"
	"github.com/modfin/mntletter/internal/metrics"
	"github.com/modfin/mntletter/internal/outbox"
	"github.com/modfin/mntletter/internal/store"
	"github.com/modfin/mntletter/internal/token"
	"github.com/modfin/mntletter/internal/web"
	"github.com/modfin/mntletter/tools"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg := config.Get()

	app := &cli.App{
		Name:   "mntletterd",
		Usage:  "a minimal mailing list manager with double opt-in",
		Flags:  serveFlags(cfg),
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the list pages and dispatch mail",
				Flags:  serveFlags(cfg),
				Action: serve,
			},
			{
				Name:  "init",
				Usage: "create a new snapshot holding the given lists",
				Flags: append(dbFlags(cfg),
					&cli.StringSliceFlag{
						Name:     "list",
						Required: true,
						Usage:    "a list to create, as name=Title, may be given multiple times",
					},
				),
				Action: initStore,
			},
			{
				Name:  "token",
				Usage: "print the confirmation link for an address",
				Flags: append(tokenFlags(cfg),
					&cli.StringFlag{Name: "list", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
				),
				Action: printToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type serveConfig struct {
	LogLevel      string `cli:"log-level"`
	ConfirmSecret string `cli:"confirm-secret"`

	MetricsPoll         bool          `cli:"metrics-poll"`
	MetricsPush         string        `cli:"metrics-push-url"`
	MetricsPushInterval time.Duration `cli:"metrics-push-interval"`

	Store   store.Config
	Journal dao.Config
	Guard   guard.Config
	Compose compose.Config
	Outbox  outbox.Config
	SMTP    outbox.SMTPConfig
	Lists   lists.Config
	Web     web.Config
}

func serve(c *cli.Context) error {
	cfg := clix.Parse[serveConfig](c)

	l := log.New()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	l.SetLevel(level)
	lc := tools.LoggerCloner(l)

	logger := lc.New("mntletterd")
	logger.Infof("Starting server")

	if cfg.Compose.Operator == "" {
		return errors.New("admin-email must be provided, it is the sender of all mail")
	}
	tokens, err := token.New(cfg.ConfirmSecret)
	if err != nil {
		return err
	}
	composer, err := compose.New(cfg.Compose)
	if err != nil {
		return err
	}

	m := metrics.New(metrics.Config{
		ServiceName:  "mntletterd",
		Push:         cfg.MetricsPush,
		PushInterval: cfg.MetricsPushInterval,
		Poll:         cfg.MetricsPoll,
		PollUser:     cfg.Web.AdminEmail,
		PollPassword: cfg.Web.AdminPassword,
	}, lc)

	s, err := store.Open(cfg.Store, lc, m)
	if err != nil {
		logger.WithError(err).Fatal("could not load store, refusing to start")
	}

	var journal dao.DAO
	if cfg.Journal.Path != "" {
		journal, err = dao.NewSQLite(cfg.Journal, lc)
		if err != nil {
			return fmt.Errorf("could not open delivery journal: %w", err)
		}
	}

	var transport outbox.Transport = outbox.NewLog(lc)
	if cfg.SMTP.Host != "" {
		transport, err = outbox.NewSMTP(cfg.SMTP)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no smtp host configured, mail will only be logged")
	}

	ob := outbox.New(cfg.Outbox, lc, transport, journal, m)
	g := guard.New(cfg.Guard, lc, m)
	svc := lists.New(cfg.Lists, lc, s, tokens, g, composer, ob, journal)

	srv, err := web.New(cfg.Web, lc, svc, m)
	if err != nil {
		return err
	}

	m.Start()
	srv.Start()

	// the web server is stopped first so nothing is enqueued while the outbox drains
	front := []Stoppable{srv}
	back := []Stoppable{ob, m, stopFunc(g.Stop)}
	if journal != nil {
		back = append(back, closer{journal})
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	logger.Infof("Got signal: %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	go func() {
		<-shutdownCtx.Done()
		if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
			logger.WithError(shutdownCtx.Err()).Warn("Shutdown was forced, terminating now")
			os.Exit(1)
		}
	}()

	stopAll(shutdownCtx, logger, front)
	stopAll(shutdownCtx, logger, back)

	logger.Infof("Shutdown complete, terminating now")
	return nil
}

func stopAll(ctx context.Context, l *log.Logger, services []Stoppable) {
	wg := &sync.WaitGroup{}
	for _, service := range services {
		wg.Add(1)
		go func(service Stoppable) {
			defer wg.Done()
			err := service.Stop(ctx)
			if err != nil {
				l.WithError(err).Error("Failed to stop service")
			}
		}(service)
	}
	wg.Wait()
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

type stopFunc func()

func (f stopFunc) Stop(ctx context.Context) error {
	f()
	return nil
}

type closer struct {
	c interface{ Close() error }
}

func (c closer) Stop(ctx context.Context) error {
	return c.c.Close()
}

type initConfig struct {
	Store store.Config
	Lists []string `cli:"list"`
}

func initStore(c *cli.Context) error {
	cfg := clix.Parse[initConfig](c)
	ls, err := parseLists(cfg.Lists)
	if err != nil {
		return err
	}
	err = store.Create(cfg.Store, ls...)
	if err != nil {
		return err
	}
	fmt.Printf("created %s with %d lists\n", cfg.Store.Path, len(ls))
	return nil
}

// parseLists reads name=Title pairs. A name has to be usable as a path segment as is.
func parseLists(pairs []string) ([]*store.List, error) {
	var res []*store.List
	for _, pair := range pairs {
		name, title, _ := strings.Cut(pair, "=")
		name, title = strings.TrimSpace(name), strings.TrimSpace(title)
		if name == "" || url.PathEscape(name) != name || strings.ContainsAny(name, "/.") {
			return nil, fmt.Errorf("%q is not a valid list name", name)
		}
		if title == "" {
			title = name
		}
		res = append(res, store.NewList(name, title))
	}
	return res, nil
}

type tokenConfig struct {
	BaseURL       string `cli:"base-url"`
	ConfirmSecret string `cli:"confirm-secret"`
	List          string `cli:"list"`
	Email         string `cli:"email"`
}

func printToken(c *cli.Context) error {
	cfg := clix.Parse[tokenConfig](c)
	addr, err := mntletter.ParseAddress(cfg.Email)
	if err != nil {
		return err
	}
	tokens, err := token.New(cfg.ConfirmSecret)
	if err != nil {
		return err
	}
	fmt.Println(tokens.Link(cfg.BaseURL, cfg.List, addr.Email))
	return nil
}
