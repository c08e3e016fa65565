package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oakwood-commons/unifind/internal/entity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// ants starts a package-level default pool at init.
		goleak.IgnoreTopFunction("github.com/panjf2000/ants/v2.(*poolCommon).purgeStaleWorkers"),
		goleak.IgnoreTopFunction("github.com/panjf2000/ants/v2.(*poolCommon).ticktock"),
	)
}

// gatedSearcher holds each query until its gate is released.
type gatedSearcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	calls atomic.Int32
}

func newGatedSearcher() *gatedSearcher {
	return &gatedSearcher{gates: make(map[string]chan struct{})}
}

func (g *gatedSearcher) gate(text string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[text]
	if !ok {
		ch = make(chan struct{})
		g.gates[text] = ch
	}
	return ch
}

func (g *gatedSearcher) Search(ctx context.Context, scope entity.Scope) ([]entity.Candidate, error) {
	g.calls.Add(1)
	select {
	case <-g.gate(scope.Text):
		return []entity.Candidate{{ID: int64(len(scope.Text)), Name: scope.Text}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func next(t *testing.T, d *Dispatcher) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := d.Next(ctx)
	require.NoError(t, err)
	return res
}

func TestIssueImmediate(t *testing.T) {
	d, err := New(SearchFunc(func(_ context.Context, s entity.Scope) ([]entity.Candidate, error) {
		return []entity.Candidate{{ID: 1, Name: "Oxford"}}, nil
	}), WithQuietWindow(0))
	require.NoError(t, err)
	defer d.Close()

	req := d.Issue(entity.NewScope(entity.Institution, "oxf", nil))
	assert.True(t, d.Loading(entity.Institution))

	res := next(t, d)
	assert.Equal(t, req, res.Request)
	assert.True(t, d.IsCurrent(res.Request))
	assert.False(t, d.Loading(entity.Institution))
	assert.False(t, d.Busy())
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Oxford", res.Candidates[0].Name)
}

func TestOutOfOrderResponsesAreStale(t *testing.T) {
	g := newGatedSearcher()
	d, err := New(g, WithQuietWindow(0), WithPoolSize(4))
	require.NoError(t, err)
	defer d.Close()

	first := d.Issue(entity.NewScope(entity.Institution, "o", nil))
	second := d.Issue(entity.NewScope(entity.Institution, "ox", nil))
	assert.Greater(t, second.Seq, first.Seq)

	close(g.gate("ox"))
	res := next(t, d)
	assert.Equal(t, second.Seq, res.Seq)
	assert.True(t, d.IsCurrent(res.Request))

	close(g.gate("o"))
	res = next(t, d)
	assert.Equal(t, first.Seq, res.Seq)
	assert.False(t, d.IsCurrent(res.Request))
	assert.False(t, d.Busy())
}

func TestSequenceIsPerKind(t *testing.T) {
	g := newGatedSearcher()
	d, err := New(g, WithQuietWindow(0), WithPoolSize(2))
	require.NoError(t, err)
	defer d.Close()

	inst := d.Issue(entity.NewScope(entity.Institution, "a", nil))
	person := d.Issue(entity.NewScope(entity.Person, "b", nil))
	assert.True(t, d.IsCurrent(inst))
	assert.True(t, d.IsCurrent(person))

	close(g.gate("a"))
	close(g.gate("b"))
	next(t, d)
	next(t, d)
}

func TestIssueDoesNotBlockWhenWorkersAreBusy(t *testing.T) {
	g := newGatedSearcher()
	d, err := New(g, WithQuietWindow(0), WithPoolSize(1))
	require.NoError(t, err)
	defer d.Close()

	d.Issue(entity.NewScope(entity.Person, "slow", nil))
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	issued := make(chan Request, 1)
	go func() { issued <- d.Issue(entity.NewScope(entity.Person, "sl", nil)) }()
	var second Request
	select {
	case second = <-issued:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Issue blocked while the only worker was busy")
	}
	assert.True(t, d.Loading(entity.Person))

	close(g.gate("slow"))
	close(g.gate("sl"))
	first := next(t, d)
	assert.False(t, d.IsCurrent(first.Request))
	res := next(t, d)
	assert.Equal(t, second.Seq, res.Seq)
	assert.True(t, d.IsCurrent(res.Request))
	assert.False(t, d.Busy())
}

func TestQuietWindowCoalesces(t *testing.T) {
	var calls atomic.Int32
	d, err := New(SearchFunc(func(_ context.Context, s entity.Scope) ([]entity.Candidate, error) {
		calls.Add(1)
		return []entity.Candidate{{ID: 1, Name: s.Text}}, nil
	}), WithQuietWindow(40*time.Millisecond))
	require.NoError(t, err)
	defer d.Close()

	var last Request
	for _, text := range []string{"a", "al", "alg", "algo"} {
		last = d.Issue(entity.NewScope(entity.Course, text, entity.IDPtr(3)))
	}

	res := next(t, d)
	assert.Equal(t, last.Seq, res.Seq)
	assert.Equal(t, "algo", res.Candidates[0].Name)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNetworkFailureIsEmptyResult(t *testing.T) {
	boom := errors.New("connection refused")
	d, err := New(SearchFunc(func(context.Context, entity.Scope) ([]entity.Candidate, error) {
		return []entity.Candidate{{ID: 9}}, boom
	}), WithQuietWindow(0))
	require.NoError(t, err)
	defer d.Close()

	d.Issue(entity.NewScope(entity.Person, "smith", nil))
	res := next(t, d)
	assert.Empty(t, res.Candidates)
	assert.ErrorIs(t, res.Err, boom)
}

func TestDiscardMakesInFlightStale(t *testing.T) {
	g := newGatedSearcher()
	d, err := New(g, WithQuietWindow(0))
	require.NoError(t, err)
	defer d.Close()

	req := d.Issue(entity.NewScope(entity.SubUnit, "eng", entity.IDPtr(1)))
	d.Discard(entity.SubUnit)
	assert.False(t, d.IsCurrent(req))
	assert.False(t, d.Loading(entity.SubUnit))

	close(g.gate("eng"))
	res := next(t, d)
	assert.False(t, d.IsCurrent(res.Request))
}

func TestDiscardCancelsQuietWindow(t *testing.T) {
	var calls atomic.Int32
	d, err := New(SearchFunc(func(context.Context, entity.Scope) ([]entity.Candidate, error) {
		calls.Add(1)
		return nil, nil
	}), WithQuietWindow(20*time.Millisecond))
	require.NoError(t, err)
	defer d.Close()

	d.Issue(entity.NewScope(entity.Person, "x", nil))
	d.Discard(entity.Person)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCloseCancelsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	g := newGatedSearcher()
	d, err := New(g, WithQuietWindow(0), WithPoolSize(2))
	require.NoError(t, err)
	d.Issue(entity.NewScope(entity.Person, "never", nil))
	d.Issue(entity.NewScope(entity.Institution, "pending", nil))

	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	d.Close()
	d.Close()

	_, err = d.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, d.IsCurrent(Request{Scope: entity.Scope{Kind: entity.Person}, Seq: 1}))
}

func TestNewRequiresSearcher(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
