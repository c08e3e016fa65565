// Package catalog is the reference record store behind the search and create
// endpoints, kept in BadgerDB.
package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/go-logr/logr"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
)

const (
	recordPrefix      = "rec:"
	indexPrefix       = "idx:"
	idSeqKey          = "seq:id"
	sequenceBandwidth = 100

	// DefaultLimit caps per-kind search results.
	DefaultLimit = 10
	// GlobalPerKind caps each kind in a cross-kind search.
	GlobalPerKind = 5
)

// Record is one stored entity.
type Record struct {
	ID       int64       `json:"id"`
	Kind     entity.Kind `json:"kind"`
	Name     string      `json:"name"`
	Region   string      `json:"region,omitempty"`
	ParentID int64       `json:"parent_id,omitempty"`
}

// Query filters a per-kind search.
type Query struct {
	Kind     entity.Kind
	Text     string
	ParentID *int64
	// Region narrows institutions by a case-insensitive substring.
	Region string
	Limit  int
}

// Store is a badger-backed catalog.
type Store struct {
	db    *badger.DB
	seq   *badger.Sequence
	reg   *entity.Registry
	log   logr.Logger
	limit int

	// mu serializes creates so the duplicate check and the insert are atomic.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store and by badger.
func WithLogger(log logr.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithLimit changes the per-kind search cap.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

type badgerLogger struct {
	log logr.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.log.Error(nil, strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.log.V(1).Info(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.log.V(2).Info(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

// Open opens the catalog at dir, creating it if needed. inMemory ignores dir.
func Open(dir string, inMemory bool, reg *entity.Registry, opts ...Option) (*Store, error) {
	if reg == nil {
		return nil, errors.New("catalog: registry is required")
	}
	s := &Store{reg: reg, log: logr.Discard(), limit: DefaultLimit}
	for _, opt := range opts {
		opt(s)
	}

	var bopts badger.Options
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts.Logger = &badgerLogger{log: s.log.WithName("badger")}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	seq, err := db.GetSequence([]byte(idSeqKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open id sequence: %w", err)
	}
	s.db = db
	s.seq = seq
	return s, nil
}

// Close releases the sequence and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Error(err, "release id sequence")
	}
	return s.db.Close()
}

// Registry returns the kind table the store validates against.
func (s *Store) Registry() *entity.Registry { return s.reg }

// Get returns the record with id.
func (s *Store) Get(_ context.Context, id int64) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *badger.Txn) error {
		var err error
		rec, err = readByID(tx, id)
		return err
	})
	return rec, err
}

// Search returns records of q.Kind whose names contain q.Text, in insertion
// order. Empty text returns nothing.
func (s *Store) Search(_ context.Context, q Query) ([]Record, error) {
	if _, err := s.reg.Lookup(q.Kind); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.limit
	}
	region := strings.TrimSpace(q.Region)

	var out []Record
	err := s.scan(q.Kind, func(rec Record) bool {
		if !entity.ContainsFold(rec.Name, text) {
			return true
		}
		if q.ParentID != nil && rec.ParentID != *q.ParentID {
			return true
		}
		if region != "" && !entity.ContainsFold(rec.Region, region) {
			return true
		}
		out = append(out, rec)
		return len(out) < limit
	})
	return out, err
}

// Regions returns the distinct regions of every kind that carries one and
// whose value contains text, first-seen spelling and order. Empty text
// returns nothing.
func (s *Store) Regions(_ context.Context, text string, limit int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.limit
	}
	var out []string
	seen := make(map[string]bool)
	for _, kind := range s.reg.Kinds() {
		spec, _ := s.reg.Spec(kind)
		if !spec.HasDiscriminator() {
			continue
		}
		err := s.scan(kind, func(rec Record) bool {
			key := entity.FoldKey(rec.Region)
			if key == "" || seen[key] || !entity.ContainsFold(rec.Region, text) {
				return true
			}
			seen[key] = true
			out = append(out, rec.Region)
			return len(out) < limit
		})
		if err != nil {
			return nil, err
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Create validates req and stores a new record. A case-insensitive name
// clash under the same parent (or in the same region) returns a
// *entity.ConflictError.
func (s *Store) Create(ctx context.Context, kind entity.Kind, req entity.CreateRequest) (Record, error) {
	spec, err := s.reg.Lookup(kind)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Kind: kind, Name: entity.NormalizeName(req.Name)}
	if rec.Name == "" {
		return Record{}, &entity.ValidationError{Kind: kind, Field: "name", Reason: entity.ErrNameRequired}
	}
	if spec.HasDiscriminator() {
		rec.Region = entity.NormalizeName(req.Discriminator)
		if rec.Region == "" {
			return Record{}, &entity.ValidationError{Kind: kind, Field: spec.Discriminator, Reason: entity.ErrDiscriminatorRequired}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if spec.HasParent() {
		if req.ParentID == nil {
			return Record{}, &entity.ValidationError{Kind: kind, Field: spec.ParentParam, Reason: entity.ErrParentRequired}
		}
		parent, err := s.Get(ctx, *req.ParentID)
		if err != nil || parent.Kind != spec.Parent {
			return Record{}, &entity.ValidationError{Kind: kind, Field: spec.ParentParam, Reason: entity.ErrNotFound}
		}
		rec.ParentID = parent.ID
	}

	var clash *Record
	err = s.scan(kind, func(other Record) bool {
		if other.ParentID != rec.ParentID || !entity.SameName(other.Name, rec.Name) {
			return true
		}
		if spec.HasDiscriminator() && !entity.SameName(other.Region, rec.Region) {
			return true
		}
		clash = &other
		return false
	})
	if err != nil {
		return Record{}, err
	}
	if clash != nil {
		cand, _ := s.Candidate(ctx, *clash)
		return Record{}, &entity.ConflictError{Kind: kind, Existing: cand}
	}

	id, err := s.nextID()
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	val, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	err = s.db.Update(func(tx *badger.Txn) error {
		if err := tx.Set(recordKey(kind, id), val); err != nil {
			return err
		}
		return tx.Set(indexKey(id), []byte(kind))
	})
	if err != nil {
		return Record{}, fmt.Errorf("store %s: %w", kind, err)
	}
	s.log.V(1).Info("record created", logger.KindKey, kind, "id", id, "name", rec.Name)
	return rec, nil
}

// Candidate converts rec into its wire form: id, name, region and the
// parent's name under the parent field (e.g. "university").
func (s *Store) Candidate(ctx context.Context, rec Record) (entity.Candidate, error) {
	raw := map[string]any{"id": float64(rec.ID), "name": rec.Name}
	c := entity.Candidate{ID: rec.ID, Name: rec.Name, Region: rec.Region, Raw: raw}
	spec, _ := s.reg.Spec(rec.Kind)
	if spec.HasDiscriminator() {
		raw["region"] = nilIfEmpty(rec.Region)
	}
	if !spec.HasParent() {
		return c, nil
	}
	field := ParentField(spec)
	parent, err := s.Get(ctx, rec.ParentID)
	if err != nil {
		raw[field] = nil
		return c, err
	}
	raw[field] = parent.Name
	return c, nil
}

// ParentField is the candidate field carrying the parent's name.
func ParentField(spec entity.Spec) string {
	return strings.TrimSuffix(spec.ParentParam, "_id")
}

// Lineage returns the names from rec's parent up to the root, nearest first.
func (s *Store) Lineage(ctx context.Context, rec Record) []string {
	var out []string
	for cur := rec; cur.ParentID != 0; {
		p, err := s.Get(ctx, cur.ParentID)
		if err != nil {
			break
		}
		out = append(out, p.Name)
		cur = p
	}
	return out
}

// Count returns the number of records of kind.
func (s *Store) Count(kind entity.Kind) (int, error) {
	n := 0
	err := s.scan(kind, func(Record) bool { n++; return true })
	return n, err
}

func (s *Store) scan(kind entity.Kind, fn func(Record) bool) error {
	return s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = kindPrefix(kind)
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

func (s *Store) nextID() (int64, error) {
	id, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	// Badger sequences start at zero; ids start at one.
	if id == 0 {
		if id, err = s.seq.Next(); err != nil {
			return 0, err
		}
	}
	return int64(id), nil
}

func readByID(tx *badger.Txn, id int64) (Record, error) {
	item, err := tx.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("id %d: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	kind, err := item.ValueCopy(nil)
	if err != nil {
		return Record{}, err
	}
	item, err = tx.Get(recordKey(entity.Kind(kind), id))
	if err != nil {
		return Record{}, fmt.Errorf("id %d: %w", id, err)
	}
	var rec Record
	err = item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) })
	return rec, err
}

func kindPrefix(kind entity.Kind) []byte {
	return []byte(recordPrefix + string(kind) + ":")
}

// recordKey orders records of a kind by id, which is insertion order.
func recordKey(kind entity.Kind, id int64) []byte {
	p := kindPrefix(kind)
	buf := make([]byte, len(p)+8)
	n := copy(buf, p)
	binary.BigEndian.PutUint64(buf[n:], uint64(id))
	return buf
}

func indexKey(id int64) []byte {
	buf := make([]byte, len(indexPrefix)+8)
	n := copy(buf, indexPrefix)
	binary.BigEndian.PutUint64(buf[n:], uint64(id))
	return buf
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
