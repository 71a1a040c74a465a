package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/modfin/mntletter/internal/metrics"
	"github.com/modfin/mntletter/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrStoreLoad means the snapshot could not be read at startup. The process must not serve without it.
var ErrStoreLoad = errors.New("could not load store")

// ErrPersistence means a mutation could not be written. The mutation is discarded, memory and disk both stay at
// the previously committed version, but the operator should be alarmed.
var ErrPersistence = errors.New("could not persist store")

// ErrExists is returned by Create when a snapshot already exists.
var ErrExists = errors.New("store already exists")

const (
	newSuffix = ".new"
	oldSuffix = ".old"
)

type Config struct {
	Path string `cli:"db"`
}

type Store struct {
	fs   FS
	name string
	log  *logrus.Logger

	wmu  sync.Mutex // serializes Update
	mu   sync.RWMutex
	root *Root

	saveDuration prometheus.Histogram
	saveFailures prometheus.Counter
}

func Open(cfg Config, lc *tools.Logger, m *metrics.Metrics) (*Store, error) {
	fs, err := NewLocalFS(filepath.Dir(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreLoad, err)
	}
	return OpenFS(fs, filepath.Base(cfg.Path), lc, m)
}

func OpenFS(fs FS, name string, lc *tools.Logger, m *metrics.Metrics) (*Store, error) {
	s := &Store{
		fs:   fs,
		name: name,
		log:  lc.New("store"),
		saveDuration: m.Register().NewHistogram(prometheus.HistogramOpts{
			Name:    "mntletter_store_save_seconds",
			Help:    "time to write a full snapshot of the store",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		saveFailures: m.Register().NewCounter(prometheus.CounterOpts{
			Name: "mntletter_store_save_failures_total",
			Help: "number of mutations discarded because the snapshot could not be written",
		}),
	}

	data, err := ReadAll(name, fs)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read %s: %v", ErrStoreLoad, name, err)
	}
	s.root, err = decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreLoad, name, err)
	}

	s.log.WithField("lists", len(s.root.Lists)).WithField("mailings", len(s.root.Mailings)).Info("store loaded")
	return s, nil
}

// Create writes an initial snapshot containing lists. It never overwrites an existing snapshot.
func Create(cfg Config, lists ...*List) error {
	fs, err := NewLocalFS(filepath.Dir(cfg.Path))
	if err != nil {
		return err
	}
	return CreateFS(fs, filepath.Base(cfg.Path), lists...)
}

func CreateFS(fs FS, name string, lists ...*List) error {
	if fs.Exist(name) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	root := NewRoot()
	for _, l := range lists {
		if _, ok := root.Lists[l.Name]; ok {
			return fmt.Errorf("list %s is given twice", l.Name)
		}
		root.Lists[l.Name] = l.Clone()
	}
	return save(fs, name, root)
}

// Snapshot returns the last committed root. It is never modified after being returned.
func (s *Store) Snapshot() *Root {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// View calls fn with the last committed root.
func (s *Store) View(fn func(root *Root) error) error {
	return fn(s.Snapshot())
}

// Update applies fn to a copy of the committed root and persists the copy. The copy is published only once it is
// on disk. If fn returns an error nothing is written and the error is returned as is.
func (s *Store) Update(fn func(root *Root) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	next := s.Snapshot().Clone()
	err := fn(next)
	if err != nil {
		return err
	}

	start := time.Now()
	err = save(s.fs, s.name, next)
	s.saveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.saveFailures.Inc()
		s.log.WithError(err).WithField("alarm", true).Error("update; could not persist store, mutation discarded")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.mu.Lock()
	s.root = next
	s.mu.Unlock()
	return nil
}

// save writes root next to name, keeps the current snapshot as name.old and renames the new one into place.
func save(fs FS, name string, root *Root) error {
	data, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("could not encode store: %w", err)
	}

	err = WriteAll(name+newSuffix, data, fs)
	if err != nil {
		return fmt.Errorf("could not write %s: %w", name+newSuffix, err)
	}

	if fs.Exist(name) {
		err = Copy(name, name+oldSuffix, fs)
		if err != nil {
			return fmt.Errorf("could not keep previous snapshot: %w", err)
		}
	}

	err = fs.Rename(name+newSuffix, name)
	if err != nil {
		return fmt.Errorf("could not replace %s: %w", name, err)
	}
	return nil
}

func decode(data []byte) (*Root, error) {
	var root Root
	err := json.Unmarshal(data, &root)
	if err != nil {
		return nil, fmt.Errorf("could not decode: %w", err)
	}

	if root.Lists == nil {
		root.Lists = map[string]*List{}
	}
	if root.Mailings == nil {
		root.Mailings = map[string]*Mailing{}
	}

	for key, l := range root.Lists {
		if l == nil {
			return nil, fmt.Errorf("list %s is null", key)
		}
		if l.Name == "" {
			l.Name = key
		}
		if l.Name != key {
			return nil, fmt.Errorf("list stored under %s is named %s", key, l.Name)
		}
		if l.Subscribers == nil {
			l.Subscribers = map[string]Subscriber{}
		}
	}
	for id, m := range root.Mailings {
		if m == nil {
			return nil, fmt.Errorf("mailing %s is null", id)
		}
	}
	return &root, nil
}
