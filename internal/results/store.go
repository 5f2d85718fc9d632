// Package results keeps a history of benchmark runs in BadgerDB.
package results

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/xupit3r/vecbench/internal/bench"
)

var (
	ErrNotFound = errors.New("results: record not found")
	ErrClosed   = errors.New("results: store closed")
)

const (
	runPrefix = "run/"
	seqKey    = "seq/run"
)

// Record is one stored run. Output vectors are not kept, only their digest.
type Record struct {
	ID       string         `yaml:"id"`
	Policy   bench.Policy   `yaml:"policy"`
	Length   int            `yaml:"length"`
	Kernel   string         `yaml:"kernel"`
	Device   string         `yaml:"device"`
	Started  time.Time      `yaml:"started"`
	Samples  []bench.Sample `yaml:"samples"`
	Digest   string         `yaml:"digest"`
	Verified bool           `yaml:"verified"`
}

// NewRecord copies the stored fields out of a run result.
func NewRecord(res *bench.Result) Record {
	return Record{
		Policy:   res.Policy,
		Length:   res.Length,
		Kernel:   res.Kernel,
		Device:   res.Device,
		Started:  res.Started,
		Samples:  append([]bench.Sample(nil), res.Samples...),
		Digest:   res.Digest,
		Verified: res.Verified,
	}
}

// Filter selects records in List. Zero fields match everything.
type Filter struct {
	Policy *bench.Policy
	Length int
	Limit  int
}

func (f Filter) match(r *Record) bool {
	if f.Policy != nil && r.Policy != *f.Policy {
		return false
	}
	if f.Length > 0 && r.Length != f.Length {
		return false
	}
	return true
}

// Store is a BadgerDB-backed run history. Keys sort by start time so that a
// reverse scan lists the newest runs first.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	log logrus.FieldLogger
}

type options struct {
	inMemory bool
	log      logrus.FieldLogger
}

// Option configures Open.
type Option func(*options)

// WithInMemory keeps the history in memory only; dir is ignored.
func WithInMemory() Option {
	return func(o *options) { o.inMemory = true }
}

// WithLogger routes store and badger diagnostics to log.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// Open opens or creates the history under dir.
func Open(dir string, opts ...Option) (*Store, error) {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	var bopts badger.Options
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating results dir: %w", err)
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts = bopts.WithLogger(badgerLogger{o.log})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening results store: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening results sequence: %w", err)
	}

	return &Store{db: db, seq: seq, log: o.log}, nil
}

// Save stores res and returns the record with its assigned ID.
func (s *Store) Save(res *bench.Result) (Record, error) {
	if s.db == nil {
		return Record{}, ErrClosed
	}
	n, err := s.seq.Next()
	if err != nil {
		return Record{}, fmt.Errorf("allocating record id: %w", err)
	}

	rec := NewRecord(res)
	if rec.Started.IsZero() {
		rec.Started = time.Now()
	}
	rec.ID = fmt.Sprintf("%016x-%06x", rec.Started.UnixNano(), n)

	data, err := encodeRecord(&rec)
	if err != nil {
		return Record{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(runPrefix+rec.ID), data)
	})
	if err != nil {
		return Record{}, fmt.Errorf("saving record: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"id":     rec.ID,
		"policy": rec.Policy.String(),
		"length": rec.Length,
	}).Debug("Run saved")
	return rec, nil
}

// Get returns the record with the given ID or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	if s.db == nil {
		return Record{}, ErrClosed
	}
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	return *rec, nil
}

// List returns matching records, newest first.
func (s *Store) List(f Filter) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the last key under the prefix.
		for it.Seek([]byte(runPrefix + "\xff")); it.ValidForPrefix([]byte(runPrefix)); it.Next() {
			var rec *Record
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = decodeRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if !f.match(rec) {
				continue
			}
			out = append(out, *rec)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(runPrefix + id))
	})
}

// Close releases the sequence and the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var errs []error
	if err := s.seq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	s.db = nil
	return errors.Join(errs...)
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

// badgerLogger demotes badger's informational chatter to debug.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Errorf(trim(f), v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warnf(trim(f), v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debugf(trim(f), v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debugf(trim(f), v...) }

func trim(f string) string {
	return "badger: " + strings.TrimSuffix(f, "\n")
}
