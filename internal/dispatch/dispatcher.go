// Package dispatch issues search requests for a single form. Every request
// carries a sequence number; only the newest request per kind is current, and
// results for anything older are reported as stale so the caller can drop
// them.
package dispatch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/panjf2000/ants/v2"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
)

// DefaultQuietWindow is how long input must stay unchanged before a search
// is sent.
const DefaultQuietWindow = 250 * time.Millisecond

const releaseTimeout = 3 * time.Second

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("dispatcher closed")

// Searcher runs one search against the backend.
type Searcher interface {
	Search(ctx context.Context, scope entity.Scope) ([]entity.Candidate, error)
}

// SearchFunc adapts a function to Searcher.
type SearchFunc func(ctx context.Context, scope entity.Scope) ([]entity.Candidate, error)

func (f SearchFunc) Search(ctx context.Context, scope entity.Scope) ([]entity.Candidate, error) {
	return f(ctx, scope)
}

// Request is a pending query.
type Request struct {
	Scope entity.Scope
	Seq   uint64
}

// Result is the outcome of a Request. A failed search yields no candidates
// and keeps the cause in Err for logging only.
type Result struct {
	Request
	Candidates []entity.Candidate
	Err        error
}

// Dispatcher debounces, runs and sequences searches for one form.
type Dispatcher struct {
	searcher Searcher
	quiet    time.Duration
	poolSize int
	pool     *ants.Pool
	log      logr.Logger

	results chan Result
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	latest  map[entity.Kind]uint64
	pending map[entity.Kind]uint64
	timers  map[entity.Kind]*time.Timer
	closed  bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithQuietWindow sets the debounce window. Zero sends immediately.
func WithQuietWindow(d time.Duration) Option {
	return func(dp *Dispatcher) error {
		if d < 0 {
			d = 0
		}
		dp.quiet = d
		return nil
	}
}

// WithPoolSize bounds the number of concurrent searches. Default is
// runtime.NumCPU(), minimum 1.
func WithPoolSize(size int) Option {
	return func(dp *Dispatcher) error {
		if size < 1 {
			size = 1
		}
		dp.poolSize = size
		return nil
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(log logr.Logger) Option {
	return func(dp *Dispatcher) error {
		dp.log = log
		return nil
	}
}

// New creates a Dispatcher. Close must be called to release its workers.
func New(searcher Searcher, opts ...Option) (*Dispatcher, error) {
	if searcher == nil {
		return nil, errors.New("dispatch: searcher is required")
	}
	d := &Dispatcher{
		searcher: searcher,
		quiet:    DefaultQuietWindow,
		poolSize: runtime.NumCPU(),
		log:      logr.Discard(),
		results:  make(chan Result, 16),
		done:     make(chan struct{}),
		latest:   make(map[entity.Kind]uint64),
		pending:  make(map[entity.Kind]uint64),
		timers:   make(map[entity.Kind]*time.Timer),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	pool, err := ants.NewPool(d.poolSize)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Issue tags scope with a new sequence number and schedules it. Any earlier
// request for the same kind becomes stale; one still inside its quiet window
// is never sent.
func (d *Dispatcher) Issue(scope entity.Scope) Request {
	d.mu.Lock()
	d.seq++
	req := Request{Scope: scope, Seq: d.seq}
	if d.closed {
		d.mu.Unlock()
		return req
	}
	kind := scope.Kind
	d.latest[kind] = req.Seq
	d.pending[kind] = req.Seq
	if t, ok := d.timers[kind]; ok {
		t.Stop()
		delete(d.timers, kind)
	}
	if d.quiet > 0 {
		d.timers[kind] = time.AfterFunc(d.quiet, func() { d.launch(req) })
		d.mu.Unlock()
		return req
	}
	// Submit blocks while every worker is busy; keep it off the caller.
	d.wg.Add(1)
	d.mu.Unlock()
	go d.submit(req)
	return req
}

// Discard makes every outstanding request for kind stale without issuing a
// new one.
func (d *Dispatcher) Discard(kind entity.Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.latest[kind] = d.seq
	delete(d.pending, kind)
	if t, ok := d.timers[kind]; ok {
		t.Stop()
		delete(d.timers, kind)
	}
}

// IsCurrent reports whether req is the newest request for its kind.
func (d *Dispatcher) IsCurrent(req Request) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.latest[req.Scope.Kind] == req.Seq
}

// Loading reports whether the current request for kind has not been
// received through Next yet.
func (d *Dispatcher) Loading(kind entity.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[kind]
	return ok
}

// Busy reports whether any kind is Loading.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0
}

// Results exposes the raw result channel. Prefer Next, which also keeps
// Loading accurate.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Next blocks for the next result, current or stale.
func (d *Dispatcher) Next(ctx context.Context) (Result, error) {
	select {
	case res := <-d.results:
		d.Received(res)
		if d.isClosed() {
			return Result{}, ErrClosed
		}
		return res, nil
	case <-d.done:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Received marks res as delivered. Next calls it; callers reading Results
// directly must call it themselves.
func (d *Dispatcher) Received(res Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[res.Scope.Kind] == res.Seq {
		delete(d.pending, res.Scope.Kind)
	}
}

// Close stops pending timers, cancels in-flight searches and waits for the
// workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for k, t := range d.timers {
		t.Stop()
		delete(d.timers, k)
	}
	d.mu.Unlock()

	d.cancel()
	close(d.done)
	d.wg.Wait()
	if err := d.pool.ReleaseTimeout(releaseTimeout); err != nil {
		d.log.Error(err, "worker pool did not stop in time")
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) launch(req Request) {
	d.mu.Lock()
	if d.closed || d.latest[req.Scope.Kind] != req.Seq {
		d.mu.Unlock()
		d.log.V(2).Info("superseded before send", logger.KindKey, req.Scope.Kind, logger.SeqKey, req.Seq)
		return
	}
	delete(d.timers, req.Scope.Kind)
	d.wg.Add(1)
	d.mu.Unlock()
	d.submit(req)
}

// submit hands req to the pool. The caller has already added it to wg.
func (d *Dispatcher) submit(req Request) {
	if err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.run(req)
	}); err != nil {
		go func() {
			defer d.wg.Done()
			d.deliver(Result{Request: req, Err: err})
		}()
	}
}

func (d *Dispatcher) run(req Request) {
	log := d.log.WithValues(logger.KindKey, req.Scope.Kind, logger.SeqKey, req.Seq)
	log.V(1).Info("search", logger.QueryKey, req.Scope.Text)

	cands, err := d.searcher.Search(d.ctx, req.Scope)
	if err != nil {
		log.V(1).Info("search failed, treating as no results", "error", err.Error())
		cands = nil
	}
	d.deliver(Result{Request: req, Candidates: cands, Err: err})
}

func (d *Dispatcher) deliver(res Result) {
	select {
	case d.results <- res:
	case <-d.done:
	}
}
