package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memState struct {
	products  map[string]Product
	orders    map[string]Order
	movements []StockMovement
	refunds   []Refund
}

func (s *memState) clone() *memState {
	c := &memState{
		products:  make(map[string]Product, len(s.products)),
		orders:    make(map[string]Order, len(s.orders)),
		movements: append([]StockMovement(nil), s.movements...),
		refunds:   append([]Refund(nil), s.refunds...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	return c
}

func (s *memState) stock(productID string) int {
	n := 0
	for _, m := range s.movements {
		if m.ProductID == productID {
			n += m.DeltaQty
		}
	}
	return n
}

// memStore is a serialising in-memory Store: a unit of work runs against a
// copy of the state that replaces the committed state only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// hooks for failure injection, called inside a unit of work
	beforeInsertOrder  func(committed *memState, o Order) error
	beforeInsertRefund func() error
	runErr             error
	lastLimit          int
	// staleFinds is how many idempotency lookups per unit of work miss a
	// committed order, like a READ COMMITTED snapshot taken before it landed.
	staleFinds int
	keyLocks   int
}

func newMemStore() *memStore {
	return &memStore{state: &memState{products: map[string]Product{}, orders: map[string]Order{}}}
}

func (s *memStore) addProduct(p Product, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
	if stock != 0 {
		s.state.movements = append(s.state.movements, StockMovement{
			ID: "seed-" + p.ID, ProductID: p.ID, DeltaQty: stock, UnitCost: decimal.NewFromInt(1), Kind: MovementRestock,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s.runErr != nil {
		return s.runErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &memTx{store: s, st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) GetOrder(_ context.Context, orderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (s *memStore) ListRefunds(_ context.Context, orderID string) ([]Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.orders[orderID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	var out []Refund
	for _, r := range s.state.refunds {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) CurrentStock(_ context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.products[productID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return s.state.stock(productID), nil
}

func (s *memStore) ListMovements(_ context.Context, productID string, limit int) ([]StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	if _, ok := s.state.products[productID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	var out []StockMovement
	for i := len(s.state.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if m := s.state.movements[i]; m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

type memTx struct {
	store *memStore
	st    *memState
	finds int
}

func (t *memTx) LockProduct(_ context.Context, productID string) (Product, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return p, nil
}

func (t *memTx) CurrentStock(_ context.Context, productID string) (int, error) {
	return t.st.stock(productID), nil
}

func (t *memTx) InsertMovement(_ context.Context, m StockMovement) error {
	t.st.movements = append(t.st.movements, m)
	return nil
}

func (t *memTx) LockIdempotencyKey(context.Context, string, string) error {
	t.store.keyLocks++
	return nil
}

func (t *memTx) FindByIdempotencyKey(_ context.Context, userID, key string) (Order, bool, error) {
	t.finds++
	if t.finds <= t.store.staleFinds {
		return Order{}, false, nil
	}
	return t.findByKey(userID, key)
}

func (t *memTx) findByKey(userID, key string) (Order, bool, error) {
	for _, o := range t.st.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return Order{}, false, nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order) error {
	if h := t.store.beforeInsertOrder; h != nil {
		if err := h(t.store.state, o); err != nil {
			return err
		}
	}
	if o.IdempotencyKey != nil {
		if _, found, _ := t.findByKey(o.UserID, *o.IdempotencyKey); found {
			return errIdempotencyRace
		}
	}
	o.Items = append([]OrderItem(nil), o.Items...)
	t.st.orders[o.ID] = o
	return nil
}

func (t *memTx) LockOrder(_ context.Context, orderID string) (Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, o Order) error {
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ID)
	}
	cur.Status = o.Status
	cur.UpdatedAt = o.UpdatedAt
	t.st.orders[o.ID] = cur
	return nil
}

func (t *memTx) InsertRefund(_ context.Context, r Refund) error {
	if h := t.store.beforeInsertRefund; h != nil {
		if err := h(); err != nil {
			return err
		}
	}
	t.st.refunds = append(t.st.refunds, r)
	return nil
}

type memPayments map[string]string // ref -> owner

func (p memPayments) OwnsPaymentMethod(_ context.Context, userID, ref string) (bool, error) {
	return p[ref] == userID, nil
}

type publishedEvent struct {
	Topic string
	Key   string
	Env   Envelope
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, key []byte, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Topic: topic, Key: string(key), Env: env})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Env.EventType)
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	created  int
	failures map[string]int // op/kind
	edges    map[string]int // from->to
	moves    map[string]int // kind
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: map[string]int{}, edges: map[string]int{}, moves: map[string]int{}}
}

func (m *recordingMetrics) OrderCreated(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *recordingMetrics) OperationFailed(op, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+"/"+kind]++
}

func (m *recordingMetrics) StatusChanged(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[from+"->"+to]++
}

func (m *recordingMetrics) MovementRecorded(kind string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves[kind]++
}

// sequence returns a concurrency-safe id generator: prefix-1, prefix-2, ...
func sequence(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// tickingClock advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	var (
		mu  sync.Mutex
		cur = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func sortedKinds(ms []StockMovement) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, string(m.Kind))
	}
	sort.Strings(out)
	return out
}
