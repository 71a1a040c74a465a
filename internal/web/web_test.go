package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/modfin/mntletter"
	"github.com/modfin/mntletter/internal/compose"
	"github.com/modfin/mntletter/internal/guard"
	"github.com/modfin/mntletter/internal/lists"
	"github.com/modfin/mntletter/internal/metrics"
	"github.com/modfin/mntletter/internal/store"
	"github.com/modfin/mntletter/internal/token"
	"github.com/modfin/mntletter/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `{"lists":{
  "news":{"name":"news","title":"News","subscribers":{"a@x.com":{"subscribedAt":"2020-01-01T00:00:00Z"},"b@x.com":{"subscribedAt":"2020-01-01T00:00:00Z"}}},
  "dev":{"name":"dev","title":"Developers","subscribers":{}}
}}`

type testMailer struct {
	mu   sync.Mutex
	msgs []mntletter.Message
}

func (m *testMailer) Enqueue(msgs ...mntletter.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
}

func (m *testMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

type fixture struct {
	srv    *Server
	mailer *testMailer
	tokens *token.Engine
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0644))

	lc := tools.DiscardLogger()
	m := metrics.New(metrics.Config{Poll: true}, lc)
	s, err := store.Open(store.Config{Path: path}, lc, m)
	require.NoError(t, err)
	tokens, err := token.New("s3cret")
	require.NoError(t, err)
	g := guard.New(guard.Config{}, lc, m)
	c, err := compose.New(compose.Config{BaseURL: "https://lists.example.com", Operator: "admin@example.com"})
	require.NoError(t, err)

	mailer := &testMailer{}
	svc := lists.New(lists.Config{BaseURL: "https://lists.example.com"}, lc, s, tokens, g, c, mailer, nil)

	cfg.AdminEmail = "admin@example.com"
	cfg.AdminPassword = "secret"
	srv, err := New(cfg, lc, svc, m)
	require.NoError(t, err)
	return &fixture{srv: srv, mailer: mailer, tokens: tokens}
}

func (f *fixture) do(method string, target string, form url.Values, auth bool) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if auth {
		req.SetBasicAuth("admin@example.com", "secret")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	return f.do(http.MethodGet, target, nil, false)
}

// getWithin fails the test instead of hanging it when the request is not served in time.
func (f *fixture) getWithin(t *testing.T, target string, d time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.get(target)
	}()
	select {
	case rec := <-done:
		return rec
	case <-time.After(d):
		t.Fatalf("GET %s was not served within %s", target, d)
		return nil
	}
}

func q(email string) string {
	return url.QueryEscape(email)
}

func TestPing(t *testing.T) {
	f := setup(t, Config{})
	rec := f.get("/ping")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestJoin(t *testing.T) {
	f := setup(t, Config{})

	rec := f.get("/lists/news/join")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Subscribe to News")

	rec = f.get("/lists/nope/join")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid list.")
}

func TestSubscriptionFlow(t *testing.T) {
	f := setup(t, Config{})

	rec := f.get("/lists/dev/subscribe?email=" + q("c@x.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thanks for subscribing to Developers")
	assert.Equal(t, 1, f.mailer.count())

	link, err := url.Parse(f.tokens.Link("https://lists.example.com", "dev", "c@x.com"))
	require.NoError(t, err)

	rec = f.get(link.RequestURI())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thanks for confirming your subscription")

	rec = f.get(link.RequestURI())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already subscribed")

	rec = f.get("/lists/dev/subscribe?email=" + q("c@x.com"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, f.mailer.count())

	rec = f.get("/lists/dev/unsubscribe?email=" + q("c@x.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thanks for unsubscribing")

	rec = f.get("/lists/dev/unsubscribe?email=" + q("c@x.com"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not subscribed")
}

func TestSubscriptionRejections(t *testing.T) {
	f := setup(t, Config{})

	for _, tc := range []struct {
		target string
		code   int
	}{
		{target: "/lists/nope/subscribe?email=bad", code: http.StatusNotFound},
		{target: "/lists/news/subscribe?email=bad", code: http.StatusBadRequest},
		{target: "/lists/news/subscribe", code: http.StatusBadRequest},
		{target: "/lists/news/confirm?email=" + q("c@x.com") + "&code=wrong", code: http.StatusBadRequest},
		{target: "/lists/nope/confirm?email=" + q("c@x.com"), code: http.StatusNotFound},
		{target: "/lists/news/unsubscribe?email=bad", code: http.StatusBadRequest},
		{target: "/lists/news/confirm?email=abc&code=x", code: http.StatusBadRequest},
		{target: "/lists/news/subscribe?email=not-an-email", code: http.StatusBadRequest},
	} {
		t.Run(tc.target, func(t *testing.T) {
			rec := f.getWithin(t, tc.target, 2*time.Second)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 0, f.mailer.count())

	rec := f.getWithin(t, "/lists/news/unsubscribe?email="+q("a@x.com"), 2*time.Second)
	assert.Equal(t, http.StatusOK, rec.Code, "a malformed address does not hold up later requests")
}

func TestTooManyConfirmationRequests(t *testing.T) {
	f := setup(t, Config{})

	for i := 0; i < 20; i++ {
		list := []string{"news", "dev"}[i%2]
		rec := f.get(fmt.Sprintf("/lists/%s/subscribe?email=%s", list, q("victim@x.com")))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	rec := f.get("/lists/dev/subscribe?email=" + q("victim@x.com"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many subscription requests")
	assert.Equal(t, 20, f.mailer.count())
}

func TestRateLimitPerClient(t *testing.T) {
	f := setup(t, Config{RateLimitPerMin: 3})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, f.get("/lists/news/join").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.get("/lists/news/join").Code)
	assert.Equal(t, http.StatusOK, f.get("/ping").Code, "ping is not limited")
}

func TestAdminNeedsAuth(t *testing.T) {
	f := setup(t, Config{})

	rec := f.get("/lists/news/mailings/new")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderWWWAuthenticate), "List Admin")

	req := httptest.NewRequest(http.MethodGet, "/lists/news/mailings/new", nil)
	req.SetBasicAuth("admin@example.com", "wrong")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/lists/news/mailings/42/send", url.Values{}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/lists/news/mailings/new", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "New mailing to news")
}

func TestStageAndSend(t *testing.T) {
	f := setup(t, Config{})

	rec := f.do(http.MethodPost, "/lists/news/mailings/stage", url.Values{"id": {"42"}, "subject": {"Hi"}, "body": {"Hello all"}}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Preview of mailing #42")
	assert.Contains(t, rec.Body.String(), "Send to 2 subscribers!")
	assert.Contains(t, rec.Body.String(), `action="/lists/news/mailings/42/send"`)
	assert.Equal(t, 1, f.mailer.count(), "preview")

	for _, id := range []string{"", "2024/06", "new"} {
		rec = f.do(http.MethodPost, "/lists/news/mailings/stage", url.Values{"id": {id}, "subject": {"Hi"}}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "id %q", id)
	}
	assert.Equal(t, 1, f.mailer.count(), "no preview for a rejected id")

	rec = f.do(http.MethodPost, "/lists/news/mailings/42/send", url.Values{}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Mailing sent to 2 subscribers.")
	assert.Equal(t, 3, f.mailer.count())

	rec = f.do(http.MethodPost, "/lists/news/mailings/42/send", url.Values{}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mailing was already sent!")
	assert.Equal(t, 3, f.mailer.count())

	rec = f.do(http.MethodPost, "/lists/news/mailings/43/send", url.Values{}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/lists/dev/mailings/stage", url.Values{"id": {"42"}, "subject": {"Hi"}}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMailingStatus(t *testing.T) {
	f := setup(t, Config{})
	rec := f.do(http.MethodPost, "/lists/news/mailings/stage", url.Values{"id": {"7"}, "subject": {"Hi"}, "body": {"x"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/lists/news/mailings/7", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "staged")

	req := httptest.NewRequest(http.MethodGet, "/lists/news/mailings/7", nil)
	req.SetBasicAuth("admin@example.com", "secret")
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info lists.MailingInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, lists.MailingStaged, info.Status)
	assert.Equal(t, 2, info.NumSubscribers)

	rec = f.do(http.MethodGet, "/lists/dev/mailings/7", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{err: lists.ErrListNotFound, code: http.StatusNotFound},
		{err: fmt.Errorf("%w: x", lists.ErrInvalidEmail), code: http.StatusBadRequest},
		{err: lists.ErrAlreadyConfirmed, code: http.StatusConflict},
		{err: lists.ErrNotConfirmed, code: http.StatusNotFound},
		{err: lists.ErrInvalidToken, code: http.StatusBadRequest},
		{err: lists.ErrTooManyRequests, code: http.StatusTooManyRequests},
		{err: lists.ErrMailingNotFound, code: http.StatusNotFound},
		{err: lists.ErrAlreadySent, code: http.StatusConflict},
		{err: lists.ErrInvalidMailing, code: http.StatusBadRequest},
		{err: lists.ErrMailingConflict, code: http.StatusConflict},
		{err: fmt.Errorf("%w: disk full", store.ErrPersistence), code: http.StatusInternalServerError},
		{err: echo.ErrUnauthorized, code: http.StatusUnauthorized},
		{err: errors.New("boom"), code: http.StatusInternalServerError},
	} {
		t.Run(tc.err.Error(), func(t *testing.T) {
			code, msg := statusOf(tc.err)
			assert.Equal(t, tc.code, code)
			assert.NotEmpty(t, msg)
		})
	}

	seen := map[string]error{}
	for _, err := range []error{lists.ErrListNotFound, lists.ErrInvalidEmail, lists.ErrAlreadyConfirmed, lists.ErrNotConfirmed,
		lists.ErrInvalidToken, lists.ErrTooManyRequests, lists.ErrMailingNotFound, lists.ErrAlreadySent, store.ErrPersistence} {
		_, msg := statusOf(err)
		prev, dup := seen[msg]
		assert.False(t, dup, "%v and %v share a message", prev, err)
		seen[msg] = err
	}
}
