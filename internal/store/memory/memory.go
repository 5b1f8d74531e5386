// Package memory provides an in-process Store used by tests and by
// `serve --memory` dev runs. Entities are stored as value copies so
// callers never share mutable state with the store.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sawpanic/tradegate/internal/store"
)

// Memory implements store.Store with a single mutex guarding all
// entity tables. Atomic snapshots the tables and restores them when
// the transaction function fails.
type Memory struct {
	mu sync.Mutex
	ds dataset
}

type dataset struct {
	intents   []*store.TradeIntent
	execs     []*store.Execution
	positions []*store.Position
	tickers   map[string]*store.TickerConfig
	audit     []*store.AuditEntry
	auditSeq  int64
}

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{ds: dataset{tickers: make(map[string]*store.TickerConfig)}}
}

func (m *Memory) Intents() store.IntentRepo       { return &intentRepo{m: m, lock: true} }
func (m *Memory) Executions() store.ExecutionRepo { return &execRepo{m: m, lock: true} }
func (m *Memory) Positions() store.PositionRepo   { return &positionRepo{m: m, lock: true} }
func (m *Memory) Tickers() store.TickerRepo       { return &tickerRepo{m: m, lock: true} }
func (m *Memory) Audit() store.AuditRepo          { return &auditRepo{m: m, lock: true} }

// Atomic holds the store mutex for the duration of fn and rolls the
// tables back to their prior snapshot if fn returns an error.
func (m *Memory) Atomic(ctx context.Context, fn func(store.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.ds.clone()
	tx := &txView{m: m}
	if err := fn(tx); err != nil {
		m.ds = snap
		return err
	}
	return nil
}

// AuditEntries returns a copy of the audit table, oldest first.
// Test helper; the engine never reads the sink.
func (m *Memory) AuditEntries() []*store.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.AuditEntry, len(m.ds.audit))
	for i, e := range m.ds.audit {
		c := *e
		out[i] = &c
	}
	return out
}

// txView exposes the repositories without locking; Atomic already
// holds the mutex.
type txView struct{ m *Memory }

func (v *txView) Intents() store.IntentRepo       { return &intentRepo{m: v.m} }
func (v *txView) Executions() store.ExecutionRepo { return &execRepo{m: v.m} }
func (v *txView) Positions() store.PositionRepo   { return &positionRepo{m: v.m} }
func (v *txView) Tickers() store.TickerRepo       { return &tickerRepo{m: v.m} }
func (v *txView) Audit() store.AuditRepo          { return &auditRepo{m: v.m} }
func (v *txView) Atomic(ctx context.Context, fn func(store.Store) error) error {
	return fn(v)
}

func (ds *dataset) clone() dataset {
	out := dataset{
		intents:   make([]*store.TradeIntent, len(ds.intents)),
		execs:     make([]*store.Execution, len(ds.execs)),
		positions: make([]*store.Position, len(ds.positions)),
		tickers:   make(map[string]*store.TickerConfig, len(ds.tickers)),
		audit:     make([]*store.AuditEntry, len(ds.audit)),
		auditSeq:  ds.auditSeq,
	}
	for i, it := range ds.intents {
		c := *it
		out.intents[i] = &c
	}
	for i, ex := range ds.execs {
		c := *ex
		out.execs[i] = &c
	}
	for i, p := range ds.positions {
		c := *p
		out.positions[i] = &c
	}
	for k, t := range ds.tickers {
		c := *t
		out.tickers[k] = &c
	}
	copy(out.audit, ds.audit)
	return out
}

type intentRepo struct {
	m    *Memory
	lock bool
}

func (r *intentRepo) enter() func() {
	if !r.lock {
		return func() {}
	}
	r.m.mu.Lock()
	return r.m.mu.Unlock
}

func (r *intentRepo) Create(ctx context.Context, intent *store.TradeIntent) error {
	defer r.enter()()
	c := *intent
	r.m.ds.intents = append(r.m.ds.intents, &c)
	return nil
}

func (r *intentRepo) Update(ctx context.Context, intent *store.TradeIntent) error {
	defer r.enter()()
	for i, it := range r.m.ds.intents {
		if it.ID == intent.ID {
			c := *intent
			r.m.ds.intents[i] = &c
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *intentRepo) GetByID(ctx context.Context, id string) (*store.TradeIntent, error) {
	defer r.enter()()
	for _, it := range r.m.ds.intents {
		if it.ID == id {
			c := *it
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *intentRepo) Latest(ctx context.Context, symbol string, statuses []store.IntentStatus, now time.Time) (*store.TradeIntent, error) {
	defer r.enter()()
	for i := len(r.m.ds.intents) - 1; i >= 0; i-- {
		it := r.m.ds.intents[i]
		if it.Symbol != symbol || !it.ExpiresAt.After(now) {
			continue
		}
		for _, s := range statuses {
			if it.Status == s {
				c := *it
				return &c, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (r *intentRepo) ListActive(ctx context.Context, symbol string, now time.Time) ([]*store.TradeIntent, error) {
	defer r.enter()()
	var out []*store.TradeIntent
	for i := len(r.m.ds.intents) - 1; i >= 0; i-- {
		it := r.m.ds.intents[i]
		if it.Symbol != symbol || !it.ExpiresAt.After(now) {
			continue
		}
		switch it.Status {
		case store.IntentPending, store.IntentSwipedOn, store.IntentCancelled:
			c := *it
			out = append(out, &c)
		}
	}
	return out, nil
}

type execRepo struct {
	m    *Memory
	lock bool
}

func (r *execRepo) enter() func() {
	if !r.lock {
		return func() {}
	}
	r.m.mu.Lock()
	return r.m.mu.Unlock
}

func (r *execRepo) Create(ctx context.Context, exec *store.Execution) error {
	defer r.enter()()
	c := *exec
	r.m.ds.execs = append(r.m.ds.execs, &c)
	return nil
}

func (r *execRepo) Update(ctx context.Context, exec *store.Execution) error {
	defer r.enter()()
	for i, ex := range r.m.ds.execs {
		if ex.ID == exec.ID {
			c := *exec
			r.m.ds.execs[i] = &c
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *execRepo) GetByID(ctx context.Context, id string) (*store.Execution, error) {
	defer r.enter()()
	for _, ex := range r.m.ds.execs {
		if ex.ID == id {
			c := *ex
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *execRepo) ListOpen(ctx context.Context, symbol string) ([]*store.Execution, error) {
	defer r.enter()()
	var out []*store.Execution
	for i := len(r.m.ds.execs) - 1; i >= 0; i-- {
		ex := r.m.ds.execs[i]
		if ex.Symbol != symbol {
			continue
		}
		if ex.Status == store.ExecPending || ex.Status == store.ExecExecuting {
			c := *ex
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *execRepo) LatestUnlinked(ctx context.Context, symbol string, since time.Time) (*store.Execution, error) {
	defer r.enter()()
	for i := len(r.m.ds.execs) - 1; i >= 0; i-- {
		ex := r.m.ds.execs[i]
		if ex.Symbol != symbol || ex.IntentID != nil || ex.CreatedAt.Before(since) {
			continue
		}
		switch ex.Status {
		case store.ExecPending, store.ExecExecuting, store.ExecExecuted:
			c := *ex
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *execRepo) PendingExitFor(ctx context.Context, symbol, positionID string) (*store.Execution, error) {
	defer r.enter()()
	for i := len(r.m.ds.execs) - 1; i >= 0; i-- {
		ex := r.m.ds.execs[i]
		if ex.Symbol != symbol || ex.Status != store.ExecPending {
			continue
		}
		tag := struct {
			Event      string `json:"event"`
			PositionID string `json:"position_id"`
		}{}
		if len(ex.RawPayload) > 0 {
			_ = json.Unmarshal(ex.RawPayload, &tag)
		}
		if tag.Event == "EXIT" && tag.PositionID == positionID {
			c := *ex
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *execRepo) ListDue(ctx context.Context, now time.Time) ([]*store.Execution, error) {
	defer r.enter()()
	var out []*store.Execution
	for _, ex := range r.m.ds.execs {
		if ex.Status == store.ExecPending && ex.Due(now) {
			c := *ex
			out = append(out, &c)
		}
	}
	return out, nil
}

type positionRepo struct {
	m    *Memory
	lock bool
}

func (r *positionRepo) enter() func() {
	if !r.lock {
		return func() {}
	}
	r.m.mu.Lock()
	return r.m.mu.Unlock
}

func (r *positionRepo) Create(ctx context.Context, pos *store.Position) error {
	defer r.enter()()
	c := *pos
	r.m.ds.positions = append(r.m.ds.positions, &c)
	return nil
}

func (r *positionRepo) Update(ctx context.Context, pos *store.Position) error {
	defer r.enter()()
	for i, p := range r.m.ds.positions {
		if p.ID == pos.ID {
			c := *pos
			r.m.ds.positions[i] = &c
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *positionRepo) GetByID(ctx context.Context, id string) (*store.Position, error) {
	defer r.enter()()
	for _, p := range r.m.ds.positions {
		if p.ID == id {
			c := *p
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *positionRepo) GetOpen(ctx context.Context, symbol string) (*store.Position, error) {
	defer r.enter()()
	for i := len(r.m.ds.positions) - 1; i >= 0; i-- {
		p := r.m.ds.positions[i]
		if p.Symbol == symbol && p.ClosedAt == nil {
			c := *p
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

type tickerRepo struct {
	m    *Memory
	lock bool
}

func (r *tickerRepo) enter() func() {
	if !r.lock {
		return func() {}
	}
	r.m.mu.Lock()
	return r.m.mu.Unlock
}

func (r *tickerRepo) Get(ctx context.Context, symbol string) (*store.TickerConfig, error) {
	defer r.enter()()
	if t, ok := r.m.ds.tickers[symbol]; ok {
		c := *t
		return &c, nil
	}
	return nil, store.ErrNotFound
}

func (r *tickerRepo) Upsert(ctx context.Context, cfg *store.TickerConfig) error {
	defer r.enter()()
	c := *cfg
	r.m.ds.tickers[cfg.Symbol] = &c
	return nil
}

func (r *tickerRepo) ResetBlocks(ctx context.Context) (int, error) {
	defer r.enter()()
	n := 0
	for _, t := range r.m.ds.tickers {
		if !t.Enabled || t.AlertsBlocked || t.BlockedUntil != nil {
			t.Enabled = true
			t.AlertsBlocked = false
			t.BlockedUntil = nil
			n++
		}
	}
	return n, nil
}

type auditRepo struct {
	m    *Memory
	lock bool
}

func (r *auditRepo) enter() func() {
	if !r.lock {
		return func() {}
	}
	r.m.mu.Lock()
	return r.m.mu.Unlock
}

func (r *auditRepo) Append(ctx context.Context, eventType, symbol string, detail map[string]any) error {
	defer r.enter()()
	r.m.ds.auditSeq++
	r.m.ds.audit = append(r.m.ds.audit, &store.AuditEntry{
		ID:        r.m.ds.auditSeq,
		EventType: eventType,
		Symbol:    symbol,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}
