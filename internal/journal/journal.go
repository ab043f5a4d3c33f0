// Package journal keeps a bounded, expiring history of modem events in an
// in-memory badger database.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// ErrNotFound is returned by Get for unknown or expired entries.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one recorded event. Event holds the event as JSON.
type Entry struct {
	ID    string          `json:"id"`
	Seq   uint64          `json:"seq"`
	Modem string          `json:"modem"`
	Type  string          `json:"type"`
	Time  time.Time       `json:"time"`
	Event json.RawMessage `json:"event"`
}

// Config holds journal settings.
type Config struct {
	MaxEvents     int           // per modem
	TTL           time.Duration // zero keeps entries until trimmed
	MaxMemoryMB   int
	PruneInterval time.Duration
}

// DefaultConfig returns the journal defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents:     1000,
		TTL:           24 * time.Hour,
		MaxMemoryMB:   64,
		PruneInterval: 5 * time.Minute,
	}
}

// Stats tracks journal activity.
type Stats struct {
	Recorded uint64 `json:"recorded"`
	Trimmed  uint64 `json:"trimmed"`
	Failed   uint64 `json:"failed"`
	Entries  uint64 `json:"entries"`
	Size     uint64 `json:"size_bytes"`
}

// Journal records modem events. It is safe for concurrent use.
type Journal struct {
	db    *badger.DB
	cfg   Config
	clock clock.WithTicker
	log   *slog.Logger

	seq      atomic.Uint64
	recorded atomic.Uint64
	trimmed  atomic.Uint64
	failed   atomic.Uint64

	mu     sync.Mutex
	counts map[string]int // entries per modem since the last trim

	stop chan struct{}
	done chan struct{}
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the clock driving the prune loop.
func WithClock(c clock.WithTicker) Option {
	return func(j *Journal) { j.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.log = l }
}

// Open creates an empty in-memory journal and starts its prune loop.
func Open(cfg Config, opts ...Option) (*Journal, error) {
	def := DefaultConfig()
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = def.MaxMemoryMB
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = def.PruneInterval
	}

	j := &Journal{
		cfg:    cfg,
		clock:  clock.RealClock{},
		log:    logging.With("component", "journal"),
		counts: make(map[string]int),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	bopts := badger.DefaultOptions("").
		WithInMemory(true).
		WithMemTableSize(int64(cfg.MaxMemoryMB) << 20).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: j.log}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	j.db = db

	go j.runPrune()
	return j, nil
}

// Attach records every event of m until the returned function is called.
func (j *Journal) Attach(m *mm.Modem) func() {
	return m.Subscribe(func(ev mm.Event) {
		if _, err := j.Record(ev); err != nil {
			j.failed.Add(1)
			j.log.Warn("failed to record event", logging.Modem(ev.ModemID),
				"type", ev.Type.String(), logging.Err(err))
		}
	})
}

// Record stores ev and returns the stored entry.
func (j *Journal) Record(ev mm.Event) (Entry, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode event: %w", err)
	}

	entry := Entry{
		ID:    uuid.NewString(),
		Seq:   j.seq.Add(1),
		Modem: ev.ModemID,
		Type:  ev.Type.String(),
		Time:  ev.Time,
		Event: data,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode entry: %w", err)
	}

	key := eventKey(entry.Modem, entry.Seq)
	err = j.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, value)
		ie := badger.NewEntry(idKey(entry.ID), key)
		if j.cfg.TTL > 0 {
			e = e.WithTTL(j.cfg.TTL)
			ie = ie.WithTTL(j.cfg.TTL)
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		return txn.SetEntry(ie)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to store event: %w", err)
	}
	j.recorded.Add(1)

	j.mu.Lock()
	j.counts[entry.Modem]++
	over := j.counts[entry.Modem] > j.cfg.MaxEvents
	j.mu.Unlock()

	if over {
		if err := j.trim(entry.Modem); err != nil {
			j.log.Warn("failed to trim journal", logging.Modem(entry.Modem), logging.Err(err))
		}
	}
	return entry, nil
}

// Get returns the entry with the given id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	var entry Entry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

// Query selects entries for List.
type Query struct {
	Modem string   // empty selects every modem
	Types []string // empty selects every type
	After uint64   // only entries with a larger sequence number
	Limit int      // newest Limit entries; zero means no limit
}

// List returns matching entries in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	prefix := allEventsPrefix
	if q.Modem != "" {
		prefix = modemPrefix(q.Modem)
	}
	types := make(map[string]bool, len(q.Types))
	for _, t := range q.Types {
		types[t] = true
	}

	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			if entry.Seq <= q.After {
				continue
			}
			if len(types) > 0 && !types[entry.Type] {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[len(entries)-q.Limit:]
	}
	return entries, nil
}

// Forget drops every entry of a modem.
func (j *Journal) Forget(modemID string) error {
	keys, err := j.keys(modemPrefix(modemID))
	if err != nil {
		return err
	}
	if err := j.delete(keys); err != nil {
		return err
	}
	j.mu.Lock()
	delete(j.counts, modemID)
	j.mu.Unlock()
	return nil
}

// Stats returns a snapshot of journal activity.
func (j *Journal) Stats() Stats {
	lsm, vlog := j.db.Size()
	st := Stats{
		Recorded: j.recorded.Load(),
		Trimmed:  j.trimmed.Load(),
		Failed:   j.failed.Load(),
		Size:     uint64(lsm + vlog),
	}
	if keys, err := j.keys(allEventsPrefix); err == nil {
		st.Entries = uint64(len(keys))
	}
	return st
}

// Close stops the prune loop and releases the database.
func (j *Journal) Close() error {
	close(j.stop)
	<-j.done
	return j.db.Close()
}

// trim deletes the oldest entries of a modem beyond MaxEvents and resets
// its count to what remains.
func (j *Journal) trim(modemID string) error {
	keys, err := j.keys(modemPrefix(modemID))
	if err != nil {
		return err
	}

	// Keys sort by sequence within a modem prefix.
	excess := len(keys) - j.cfg.MaxEvents
	if excess > 0 {
		if err := j.delete(keys[:excess]); err != nil {
			return err
		}
		j.trimmed.Add(uint64(excess))
	}

	j.mu.Lock()
	j.counts[modemID] = len(keys) - max(excess, 0)
	j.mu.Unlock()
	return nil
}

func (j *Journal) keys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// delete removes event keys together with their id index entries.
func (j *Journal) delete(keys [][]byte) error {
	var ids []string
	err := j.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			ids = append(ids, entry.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := j.db.NewWriteBatch()
	for _, id := range ids {
		if err := wb.Delete(idKey(id)); err != nil {
			wb.Cancel()
			return err
		}
	}
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

// runPrune recounts every modem periodically so expired entries stop
// counting toward MaxEvents.
func (j *Journal) runPrune() {
	defer close(j.done)
	ticker := j.clock.NewTicker(j.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			j.prune()
		case <-j.stop:
			return
		}
	}
}

func (j *Journal) prune() {
	j.mu.Lock()
	modems := make([]string, 0, len(j.counts))
	for id := range j.counts {
		modems = append(modems, id)
	}
	j.mu.Unlock()

	start := j.clock.Now()
	for _, id := range modems {
		if err := j.trim(id); err != nil {
			j.log.Warn("journal prune failed", logging.Modem(id), logging.Err(err))
		}
	}
	j.log.Debug("journal pruned", logging.Count("modems", len(modems)), logging.Duration("elapsed", j.clock.Since(start)))
}
