package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/modfin/henry/compare"
	"github.com/modfin/mntletter/internal/lists"
	"github.com/modfin/mntletter/internal/metrics"
	"github.com/modfin/mntletter/tools"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Config struct {
	Interface string `cli:"interface"`
	Port      int    `cli:"port"`
	BaseURL   string `cli:"base-url"`

	AdminEmail    string `cli:"admin-email"`
	AdminPassword string `cli:"admin-password"`

	// RateLimitPerMin is the number of requests per minute a client address may make, 0 disables the limit
	RateLimitPerMin int `cli:"rate-limit-per-minute"`

	HTTPMetrics  bool   `cli:"http-metrics"`
	AutoTLS      bool   `cli:"auto-tls"`
	AutoTLSCache string `cli:"auto-tls-cache"`
}

// Lists is what the web layer needs from the list service.
type Lists interface {
	List(list string) (lists.ListInfo, error)
	RequestSubscription(list string, email string) (lists.RequestResult, error)
	ConfirmSubscription(list string, email string, code string) (lists.ConfirmResult, error)
	Unsubscribe(list string, email string) (lists.UnsubscribeResult, error)
	StageMailing(list string, id string, subject string, body string) (lists.StageResult, error)
	SendMailing(list string, id string) (lists.SendResult, error)
	Mailing(list string, id string) (lists.MailingInfo, error)
}

type Server struct {
	cfg   Config
	log   *logrus.Logger
	e     *echo.Echo
	lists Lists

	ostart sync.Once
	ostop  sync.Once
}

func New(cfg Config, lc *tools.Logger, l Lists, m *metrics.Metrics) (*Server, error) {
	cfg.Port = compare.Coalesce(cfg.Port, 8080)

	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("could not parse templates: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		log:   lc.New("web"),
		e:     echo.New(),
		lists: l,
	}

	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Renderer = &renderer{t: tmpl}
	s.e.HTTPErrorHandler = s.errorHandler

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURIPath:    true,
		LogMethod:     true,
		LogStatus:     true,
		LogLatency:    true,
		LogRemoteIP:   true,
		LogError:      true,
		LogValuesFunc: s.logRequest,
	}))
	if cfg.HTTPMetrics {
		prom := prometheus.NewPrometheus("mntletter", nil)
		s.e.Use(prom.HandlerFunc)
	}

	s.e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, ".")
	})
	s.e.GET("/metrics", echo.WrapHandler(m.HttpMetrics()))

	g := s.e.Group("/lists/:list")
	if cfg.RateLimitPerMin > 0 {
		g.Use(rateLimit(cfg.RateLimitPerMin))
	}
	g.GET("/join", s.join)
	g.GET("/subscribe", s.subscribe)
	g.GET("/confirm", s.confirm)
	g.GET("/unsubscribe", s.unsubscribe)

	admin := g.Group("/mailings", s.basicAuth())
	admin.GET("/new", s.newMailing)
	admin.POST("/stage", s.stageMailing)
	admin.GET("/:id", s.mailing)
	admin.POST("/:id/send", s.sendMailing)

	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start() {
	s.ostart.Do(func() {
		addr := fmt.Sprintf("%s:%d", s.cfg.Interface, s.cfg.Port)
		go func() {
			var err error
			if s.cfg.AutoTLS {
				err = s.startAutoTLS(addr)
			} else {
				s.log.WithField("addr", addr).Info("Starting webserver")
				err = s.e.Start(addr)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.WithError(err).Fatal("could not start webserver")
			}
		}()
	})
}

func (s *Server) startAutoTLS(addr string) error {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("auto tls needs a base url with a host name, got %q", s.cfg.BaseURL)
	}
	s.e.AutoTLSManager.Cache = autocert.DirCache(compare.Coalesce(s.cfg.AutoTLSCache, "./certs"))
	s.e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(u.Hostname())
	s.log.WithField("addr", addr).WithField("host", u.Hostname()).Info("Starting webserver with auto tls")
	return s.e.StartAutoTLS(addr)
}

func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.ostop.Do(func() {
		err = s.e.Shutdown(ctx)
		if err == nil {
			s.log.Info("webserver has been shut down")
		}
	})
	return err
}

// logRequest leaves out the query, it carries addresses and confirmation codes.
func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	l := s.log.WithField("method", v.Method).
		WithField("path", v.URIPath).
		WithField("status", v.Status).
		WithField("latency", v.Latency.String()).
		WithField("remote-ip", v.RemoteIP)
	if v.Error != nil {
		l = l.WithError(v.Error)
	}
	l.Debug("request")
	return nil
}

func (s *Server) basicAuth() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "List Admin",
		Validator: func(user string, password string, c echo.Context) (bool, error) {
			if s.cfg.AdminPassword == "" {
				return false, nil
			}
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminEmail)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) == 1
			return userOK && passOK, nil
		},
	})
}

func rateLimit(perMin int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMin) / 60),
			Burst:     perMin,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests, please try again in a minute.")
		},
	})
}

type renderer struct {
	t *template.Template
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.t.ExecuteTemplate(w, name, data)
}
