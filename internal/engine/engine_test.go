package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
	"github.com/sawpanic/tradegate/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubForwarder struct {
	mu    sync.Mutex
	err   error
	calls []*store.Execution
}

func (f *stubForwarder) Forward(ctx context.Context, exec *store.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *exec
	f.calls = append(f.calls, &c)
	return f.err
}

func (f *stubForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stubNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *stubNotifier) Notify(kind, symbol string, detail map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind)
}

func (n *stubNotifier) has(kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev == kind {
			return true
		}
	}
	return false
}

type stubScheduler struct {
	mu    sync.Mutex
	wakes int
}

func (s *stubScheduler) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakes++
}

func (s *stubScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakes
}

type testRig struct {
	engine   *Engine
	store    *memory.Memory
	clock    *fakeClock
	locks    *lock.Service
	fwd      *stubForwarder
	notifier *stubNotifier
	sched    *stubScheduler
}

func testEngineConfig() config.EngineSection {
	return config.EngineSection{
		Mode:             config.ModeSafe,
		DefaultDelayBars: 2,
		BarMinutes:       5,
		ExitDelaySeconds: 10,
		IntentExpiry:     24 * time.Hour,
		AutoLinkWindow:   time.Hour,
		CloseCooldown:    5 * time.Minute,
		WallLockTTL:      3 * time.Second,
		OrderLockTTL:     3 * time.Second,
		CloseLockTTL:     5 * time.Second,
	}
}

func newTestRig(mode config.ExecutionMode) *testRig {
	cfg := testEngineConfig()
	cfg.Mode = mode
	return newRigWithConfig(cfg)
}

func newRigWithConfig(cfg config.EngineSection) *testRig {
	clock := newFakeClock()
	mem := memory.New()
	locks := lock.NewService(lock.NewMemoryStore(clock))
	fwd := &stubForwarder{}
	notifier := &stubNotifier{}
	sched := &stubScheduler{}

	eng := New(mem, locks, fwd, notifier, sched, clock, cfg)
	return &testRig{
		engine:   eng,
		store:    mem,
		clock:    clock,
		locks:    locks,
		fwd:      fwd,
		notifier: notifier,
		sched:    sched,
	}
}

func (r *testRig) process(t *testing.T, raw string) *Result {
	t.Helper()
	sig, err := signal.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	res, err := r.engine.Process(context.Background(), sig)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	return res
}

func (r *testRig) openPosition(t *testing.T, symbol string, side store.Direction, qty, price float64) *store.Position {
	t.Helper()
	pos := &store.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: price,
		OpenedAt:   r.clock.Now(),
	}
	if err := r.store.Positions().Create(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	return pos
}

func (r *testRig) pendingExecution(t *testing.T, symbol string, raw string) *store.Execution {
	t.Helper()
	exec := &store.Execution{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  store.Long,
		Action:     store.ActionBuy,
		Quantity:   1,
		Status:     store.ExecPending,
		RawPayload: []byte(raw),
		CreatedAt:  r.clock.Now(),
		UpdatedAt:  r.clock.Now(),
	}
	if err := r.store.Executions().Create(context.Background(), exec); err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	return exec
}

func (r *testRig) auditCount(eventType string) int {
	n := 0
	for _, entry := range r.store.AuditEntries() {
		if entry.EventType == eventType {
			n++
		}
	}
	return n
}

func (r *testRig) lastAudit(eventType string) *store.AuditEntry {
	var last *store.AuditEntry
	for _, entry := range r.store.AuditEntries() {
		if entry.EventType == eventType {
			last = entry
		}
	}
	return last
}
