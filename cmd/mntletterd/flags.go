package main

import (
	"github.com/modfin/mntletter/internal/config"
	"github.com/urfave/cli/v2"
)

func dbFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "db",
			Value: cfg.DbPath,
			Usage: "path to the json snapshot holding lists and mailings, <db>.old and <db>.new are kept next to it",
		},
	}
}

func tokenFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "base-url",
			Value: cfg.BaseURL,
			Usage: "public url of the service, used in confirmation and unsubscribe links",
		},
		&cli.StringFlag{
			Name:  "confirm-secret",
			Value: cfg.ConfirmSecret,
			Usage: "secret confirmation codes are derived from, changing it invalidates every link already mailed",
		},
	}
}

func serveFlags(cfg *config.Config) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Value: "info",
		},
		&cli.IntFlag{
			Name:  "port",
			Value: cfg.Port,
		},
		&cli.StringFlag{
			Name:  "interface",
			Value: cfg.Interface,
		},
		&cli.StringFlag{
			Name:  "journal",
			Value: cfg.JournalPath,
			Usage: "path to the sqlite delivery journal, empty disables it",
		},
		&cli.StringFlag{
			Name:  "admin-email",
			Value: cfg.AdminEmail,
			Usage: "sender of all mail, receiver of previews and the user name for the mailing pages",
		},
		&cli.StringFlag{
			Name:  "admin-password",
			Value: cfg.AdminPassword,
			Usage: "password for the mailing pages, they can not be reached while it is empty",
		},
		&cli.StringFlag{
			Name:  "email-signature",
			Value: cfg.EmailSignature,
			Usage: "go template appended to mail, may refer to {{.List}}, {{.Email}}, {{.BaseURL}} and {{.UnsubscribeURL}}",
		},
		&cli.StringFlag{
			Name:  "smtp-host",
			Value: cfg.SMTPHost,
			Usage: "submission server, mail is only logged when empty",
		},
		&cli.IntFlag{
			Name:  "smtp-port",
			Value: cfg.SMTPPort,
		},
		&cli.StringFlag{
			Name:  "smtp-user",
			Value: cfg.SMTPUser,
		},
		&cli.StringFlag{
			Name:  "smtp-password",
			Value: cfg.SMTPPassword,
		},
		&cli.DurationFlag{
			Name:  "smtp-timeout",
			Value: cfg.SMTPTimeout,
		},
		&cli.IntFlag{
			Name:  "workers",
			Value: cfg.Workers,
			Usage: "max number of concurrent smtp connections",
		},
		&cli.IntFlag{
			Name:  "outbox-capacity",
			Value: 10000,
			Usage: "max number of messages waiting to be dispatched",
		},
		&cli.IntFlag{
			Name:  "request-limit",
			Value: cfg.RequestLimit,
			Usage: "confirmation mails an address can receive",
		},
		&cli.DurationFlag{
			Name:  "request-window",
			Value: cfg.RequestWindow,
			Usage: "how long request-limit applies, 0 for the lifetime of the process",
		},
		&cli.IntFlag{
			Name:  "rate-limit-per-minute",
			Value: cfg.RateLimitPerMin,
			Usage: "requests per minute and client address on list pages, 0 disables",
		},
		&cli.BoolFlag{
			Name:  "http-metrics",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "auto-tls",
			Value: cfg.AutoTLS,
			Usage: "get a certificate for the host of base-url from let's encrypt",
		},
		&cli.StringFlag{
			Name:  "auto-tls-cache",
			Value: cfg.AutoTLSCache,
		},
		&cli.BoolFlag{
			Name:  "metrics-poll",
			Value: cfg.MetricsPoll,
		},
		&cli.StringFlag{
			Name:  "metrics-push-url",
			Value: cfg.MetricsPush,
		},
		&cli.DurationFlag{
			Name:  "metrics-push-interval",
			Value: cfg.MetricsPushPeriod,
		},
	}
	flags = append(flags, dbFlags(cfg)...)
	return append(flags, tokenFlags(cfg)...)
}
