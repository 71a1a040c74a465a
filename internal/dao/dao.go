package dao

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/modfin/mntletter/tools"
	"github.com/sirupsen/logrus"
)

// DAO is the delivery journal, a record of what the outbox handed to the mail transport and how that went. It is
// informational, nothing is ever retried from it.
type DAO interface {
	AddDispatch(d Dispatch) (Dispatch, error)
	GetDispatches(mailingID string) ([]Dispatch, error)
	GetSummary(mailingID string) (DispatchSummary, error)
	Close() error
}

type Config struct {
	Path string `cli:"journal"`
}

func NewSQLite(cfg Config, lc *tools.Logger) (DAO, error) {
	lite := &sqlite{path: cfg.Path, log: lc.New("dao")}
	err := lite.ensureSchema()
	if err != nil {
		return nil, err
	}
	return lite, nil
}

type sqlite struct {
	mu   sync.Mutex
	db   *sqlx.DB
	path string
	log  *logrus.Logger
}

func (s *sqlite) AddDispatch(d Dispatch) (Dispatch, error) {
	q := `
	INSERT INTO dispatch (id, message_id, kind, list, mailing_id, rcpt, status, error, created_at)
	VALUES (:id, :message_id, :kind, :list, :mailing_id, :rcpt, :status, :error, :created_at)
	`
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().In(time.UTC)
	}

	db, err := s.getDB()
	if err != nil {
		return d, err
	}
	_, err = db.NamedExec(q, d)
	if err != nil {
		return d, fmt.Errorf("failed to insert dispatch, %w", err)
	}
	return d, nil
}

func (s *sqlite) GetDispatches(mailingID string) ([]Dispatch, error) {
	q := `SELECT * FROM dispatch WHERE mailing_id = ? ORDER BY created_at, rcpt`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var res []Dispatch
	err = db.Select(&res, q, mailingID)
	return res, err
}

func (s *sqlite) GetSummary(mailingID string) (DispatchSummary, error) {
	q := `
	SELECT COALESCE(SUM(status = 'sent'), 0) AS sent,
	       COALESCE(SUM(status = 'failed'), 0) AS failed
	FROM dispatch
	WHERE mailing_id = ?
	  AND kind = 'broadcast'
	`
	db, err := s.getDB()
	if err != nil {
		return DispatchSummary{}, err
	}
	var sum DispatchSummary
	err = db.Get(&sum, q, mailingID)
	return sum, err
}

func (s *sqlite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqlite) tuneDatabase() error {
	q := `pragma journal_mode = WAL;
			pragma synchronous = normal;
			pragma temp_store = memory;
			pragma busy_timeout = 5000;`

	if s.db == nil {
		return errors.New("db must be instantiated")
	}
	_, err := s.db.Exec(q)
	return err
}

func (s *sqlite) getDB() (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for s.db == nil || s.db.Ping() != nil {

		if s.db != nil {
			_ = s.db.Close()
			s.db = nil
		}

		s.log.WithField("path", s.path).Info("connecting to journal db")
		s.db, err = sqlx.Connect("sqlite3", s.path)
		if err != nil {
			return nil, fmt.Errorf("error while connecting, %w", err)
		}
		err := s.tuneDatabase()
		if err != nil {
			return nil, fmt.Errorf("error while tuning db instance, %w", err)
		}
	}

	return s.db, nil
}

func (s *sqlite) ensureSchema() error {

	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("could not get db, %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS dispatch (
	    id         TEXT PRIMARY KEY,
	    message_id TEXT NOT NULL,
	    kind       TEXT NOT NULL, -- confirmation, preview, broadcast
	    list       TEXT NOT NULL,
	    mailing_id TEXT NOT NULL DEFAULT '',
	    rcpt       TEXT NOT NULL,
	    status     TEXT NOT NULL, -- sent, failed
	    error      TEXT NOT NULL DEFAULT '',
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_dispatch_mailing ON dispatch(mailing_id);
`)
	if err != nil {
		return fmt.Errorf("could upsert schema, %w", err)
	}

	return err
}
