package application

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"

	"nexus-reservation/internal/pkg/metrics"
	"nexus-reservation/internal/service/reservation/domain"
	"nexus-reservation/internal/service/reservation/domain/port"
)

// memCapacityRepo 用互斥锁模拟存储层的单行原子条件更新。
type memCapacityRepo struct {
	mu      sync.Mutex
	records map[string]*domain.Capacity
	deleted map[string]bool

	findCalls  atomic.Int64
	findGate   chan struct{}
	staleFind  func(c *domain.Capacity)
	releaseErr error
}

func newMemCapacityRepo() *memCapacityRepo {
	return &memCapacityRepo{records: map[string]*domain.Capacity{}, deleted: map[string]bool{}}
}

func (r *memCapacityRepo) seed(id string, total int64, status domain.ResourceStatus) {
	c, _ := domain.NewCapacity(id, id, total, status, time.Now())
	r.mu.Lock()
	r.records[id] = c
	r.mu.Unlock()
}

func (r *memCapacityRepo) snapshot(id string) domain.Capacity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.records[id]
}

func (r *memCapacityRepo) active(id string) (*domain.Capacity, error) {
	c, ok := r.records[id]
	if !ok || r.deleted[id] {
		return nil, domain.ErrResourceNotFound
	}
	return c, nil
}

func (r *memCapacityRepo) FindActiveCapacity(ctx context.Context, id string) (*domain.Capacity, error) {
	r.findCalls.Add(1)
	if r.findGate != nil {
		select {
		case <-r.findGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.active(id)
	if err != nil {
		return nil, err
	}
	cp := *c
	if r.staleFind != nil {
		r.staleFind(&cp)
	}
	return &cp, nil
}

func (r *memCapacityRepo) ReserveCapacity(_ context.Context, id string, quantity int64) (*domain.Capacity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.active(id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ResourceOpen {
		return nil, domain.ErrResourceNotOpen
	}
	if c.AvailableCount < quantity {
		return nil, domain.ErrSoldOut
	}
	c.AvailableCount -= quantity
	c.Revision++
	cp := *c
	return &cp, nil
}

func (r *memCapacityRepo) ReleaseCapacity(ctx context.Context, id string, quantity int64) (*domain.Capacity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.releaseErr != nil {
		return nil, r.releaseErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.active(id)
	if err != nil {
		return nil, err
	}
	c.AvailableCount += quantity
	c.Revision++
	cp := *c
	return &cp, nil
}

func (r *memCapacityRepo) CreateCapacity(_ context.Context, c *domain.Capacity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.records[c.ID] = &cp
	return nil
}

func (r *memCapacityRepo) AdjustCapacity(_ context.Context, id string, newTotal int64) (*domain.Capacity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.active(id)
	if err != nil {
		return nil, err
	}
	if c.AvailableCount+(newTotal-c.TotalCapacity) < 0 {
		return nil, domain.ErrCapacityBelowReserved
	}
	c.AvailableCount += newTotal - c.TotalCapacity
	c.TotalCapacity = newTotal
	c.Revision++
	cp := *c
	return &cp, nil
}

func (r *memCapacityRepo) UpdateStatus(_ context.Context, id string, from, to domain.ResourceStatus) (*domain.Capacity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.active(id)
	if err != nil {
		return nil, err
	}
	if c.Status != from {
		return nil, domain.ErrInvalidStatusTransition
	}
	c.Status = to
	c.Revision++
	cp := *c
	return &cp, nil
}

func (r *memCapacityRepo) SoftDeleteCapacity(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.active(id)
	if err != nil {
		return err
	}
	if c.AvailableCount != c.TotalCapacity {
		return domain.ErrResourceHasReservations
	}
	r.deleted[id] = true
	return nil
}

// memReservationRepo 模拟唯一索引约束。
type memReservationRepo struct {
	mu       sync.Mutex
	byID     map[string]*domain.Reservation
	byKey    map[string]string
	byTicket map[string]string

	createHook func(ctx context.Context, r *domain.Reservation) error
	revertErr  error
}

func newMemReservationRepo() *memReservationRepo {
	return &memReservationRepo{
		byID:     map[string]*domain.Reservation{},
		byKey:    map[string]string{},
		byTicket: map[string]string{},
	}
}

func (r *memReservationRepo) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	if r.createHook != nil {
		if err := r.createHook(ctx, res); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[res.IdempotencyKey]; ok {
		return domain.ErrDuplicateIdempotencyKey
	}
	if _, ok := r.byTicket[res.TicketCode]; ok {
		return domain.ErrDuplicateTicketCode
	}
	cp := *res
	r.byID[res.ID] = &cp
	r.byKey[res.IdempotencyKey] = res.ID
	r.byTicket[res.TicketCode] = res.ID
	return nil
}

func (r *memReservationRepo) FindActiveReservation(_ context.Context, id string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *memReservationRepo) MarkCancelled(_ context.Context, id, reason string, at time.Time) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	if res.Status != domain.ReservationConfirmed {
		return nil, domain.ErrAlreadyCancelled
	}
	res.Status = domain.ReservationCancelled
	res.CancelledAt = &at
	res.CancellationReason = reason
	cp := *res
	return &cp, nil
}

func (r *memReservationRepo) RevertCancellation(_ context.Context, id string) error {
	if r.revertErr != nil {
		return r.revertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	res.Status = domain.ReservationConfirmed
	res.CancelledAt = nil
	res.CancellationReason = ""
	return nil
}

func (r *memReservationRepo) ListReservations(_ context.Context, f domain.ReservationFilter) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, res := range r.byID {
		if f.OwnerID != "" && res.OwnerID != f.OwnerID {
			continue
		}
		if f.ResourceID != "" && res.ResourceID != f.ResourceID {
			continue
		}
		if f.Status != "" && res.Status != f.Status {
			continue
		}
		cp := *res
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketCode > out[j].TicketCode })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// sumConfirmed 返回某资源已确认预订的数量之和。
func (r *memReservationRepo) sumConfirmed(resourceID string) (sum int64, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.byID {
		if res.ResourceID == resourceID && res.Status == domain.ReservationConfirmed {
			sum += res.Quantity
			count++
		}
	}
	return sum, count
}

type memLedger struct {
	mu      sync.Mutex
	entries map[string]port.LedgerEntry
	getErr  error
	putErr  error
}

func newMemLedger() *memLedger {
	return &memLedger{entries: map[string]port.LedgerEntry{}}
}

func (l *memLedger) Get(_ context.Context, scope, key string) (*port.LedgerEntry, bool, error) {
	if l.getErr != nil {
		return nil, false, l.getErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[scope+":"+key]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (l *memLedger) Put(_ context.Context, scope, key string, entry port.LedgerEntry, _ time.Duration) error {
	if l.putErr != nil {
		return l.putErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[scope+":"+key]; !ok {
		l.entries[scope+":"+key] = entry
	}
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]domain.Availability
	err     error
	deletes int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]domain.Availability{}}
}

func (c *memCache) Get(_ context.Context, id string) (*domain.Availability, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (c *memCache) Set(_ context.Context, a *domain.Availability, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[a.ResourceID] = *a
	return nil
}

func (c *memCache) Delete(_ context.Context, id string) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.deletes++
	return nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []domain.ReservationEvent
	err    error
	stall  bool
}

func (p *memPublisher) Publish(ctx context.Context, e domain.ReservationEvent) error {
	if p.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *memPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type rolePolicy map[string]bool

func (p rolePolicy) IsElevated(c domain.Caller) bool { return p[c.Role] }

// fixture 组装一套使用内存实现的服务。
type fixture struct {
	capacity     *memCapacityRepo
	reservations *memReservationRepo
	ledger       *memLedger
	cache        *memCache
	publisher    *memPublisher
	metrics      *metrics.Metrics
	availability *AvailabilityService
	svc          *ReservationService
	catalog      *CatalogService
}

func newFixture() *fixture {
	f := &fixture{
		capacity:     newMemCapacityRepo(),
		reservations: newMemReservationRepo(),
		ledger:       newMemLedger(),
		cache:        newMemCache(),
		publisher:    &memPublisher{},
		metrics:      metrics.New(prometheus.NewRegistry()),
	}
	tracer := noop.NewTracerProvider().Tracer("test")
	policy := rolePolicy{"admin": true}
	f.availability = NewAvailabilityService(f.capacity, f.cache, 5*time.Second, 150*time.Millisecond, f.metrics, tracer)
	f.svc = NewReservationService(f.capacity, f.reservations, f.ledger, f.availability, f.publisher, policy, f.metrics, tracer, Options{
		MaxQuantityPerRequest: 10,
		ReasonMaxLength:       500,
		IdempotencyTTL:        time.Hour,
		LedgerTimeout:         time.Second,
		PublishTimeout:        100 * time.Millisecond,
	})
	f.catalog = NewCatalogService(f.capacity, f.availability, policy, f.metrics, tracer)
	return f
}

var (
	alice = domain.Caller{UserID: "alice", Role: "user"}
	bob   = domain.Caller{UserID: "bob", Role: "user"}
	admin = domain.Caller{UserID: "root", Role: "admin"}
)

func mustJSON(t testing.TB, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
