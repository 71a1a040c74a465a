package config

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	Port      int    `env:"MNTLETTER_PORT" envDefault:"8080"`
	Interface string `env:"MNTLETTER_INTERFACE"`
	BaseURL   string `env:"MNTLETTER_BASE_URL" envDefault:"http://localhost:8080"` // used in confirmation and unsubscribe links

	DbPath      string `env:"MNTLETTER_DB_PATH" envDefault:"./db.json"`
	JournalPath string `env:"MNTLETTER_JOURNAL_PATH" envDefault:"./journal.sqlite"` // empty disables the delivery journal

	AdminEmail    string `env:"MNTLETTER_ADMIN_EMAIL"` // sender of all mail, receiver of previews and basic auth user
	AdminPassword string `env:"MNTLETTER_ADMIN_PASSWORD"`
	ConfirmSecret string `env:"MNTLETTER_CONFIRM_SECRET,file"` // path to a file holding the secret

	EmailSignature string `env:"MNTLETTER_EMAIL_SIGNATURE"`

	SMTPHost     string        `env:"MNTLETTER_SMTP_HOST"` // empty logs mail instead of sending it
	SMTPPort     int           `env:"MNTLETTER_SMTP_PORT" envDefault:"587"`
	SMTPUser     string        `env:"MNTLETTER_SMTP_USER"`
	SMTPPassword string        `env:"MNTLETTER_SMTP_PASSWORD"`
	SMTPTimeout  time.Duration `env:"MNTLETTER_SMTP_TIMEOUT" envDefault:"30s"`

	Workers int `env:"MNTLETTER_WORKERS" envDefault:"5"`

	RequestLimit      int           `env:"MNTLETTER_REQUEST_LIMIT" envDefault:"20"` // confirmation mails per address
	RequestWindow     time.Duration `env:"MNTLETTER_REQUEST_WINDOW" envDefault:"0s"` // 0 counts for the process lifetime
	RateLimitPerMin   int           `env:"MNTLETTER_RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	AutoTLS           bool          `env:"MNTLETTER_AUTO_TLS" envDefault:"false"` // use echo AutoTLSManager for BaseURL's host
	AutoTLSCache      string        `env:"MNTLETTER_AUTO_TLS_CACHE" envDefault:"./certs"`
	MetricsPoll       bool          `env:"MNTLETTER_METRICS_POLL" envDefault:"true"`
	MetricsPush       string        `env:"MNTLETTER_METRICS_PUSH_URL"`
	MetricsPushPeriod time.Duration `env:"MNTLETTER_METRICS_PUSH_INTERVAL" envDefault:"1m"`
}

var (
	once sync.Once
	cfg  Config
)

func Get() *Config {
	once.Do(func() {
		cfg = Config{}
		if err := env.Parse(&cfg); err != nil {
			log.Panic("Couldn't parse Config from env: ", err)
		}
	})
	return &cfg
}
