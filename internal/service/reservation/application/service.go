package application

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-reservation/internal/pkg/logger"
	"nexus-reservation/internal/pkg/metrics"
	"nexus-reservation/internal/service/reservation/domain"
	"nexus-reservation/internal/service/reservation/domain/port"
)

const (
	ledgerCacheName = "idempotency"

	defaultListLimit = 20
	maxListLimit     = 100
)

// Options 是预订协调器的业务参数。
type Options struct {
	MaxQuantityPerRequest int64
	ReasonMaxLength       int
	IdempotencyTTL        time.Duration
	LedgerTimeout         time.Duration
	PublishTimeout        time.Duration
}


// ReservationService 是预订协调器：把"请求 N 个名额"原子地转换为一条已确认的预订，
// 或者一个明确的失败结果。进程内不持有锁，并发只由容量记录上的条件更新协调。
type ReservationService struct {
	capacityRepo    domain.CapacityRepository
	reservationRepo domain.ReservationRepository
	ledger          port.IdempotencyLedger
	availability    *AvailabilityService
	publisher       port.EventPublisher
	policy          port.AccessPolicy
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	opts            Options

	now   func() time.Time
	newID func() string
}

func NewReservationService(capacityRepo domain.CapacityRepository, reservationRepo domain.ReservationRepository, ledger port.IdempotencyLedger, availability *AvailabilityService, publisher port.EventPublisher, policy port.AccessPolicy, m *metrics.Metrics, tracer trace.Tracer, opts Options) *ReservationService {
	if opts.MaxQuantityPerRequest <= 0 {
		opts.MaxQuantityPerRequest = 10
	}
	if opts.ReasonMaxLength <= 0 || opts.ReasonMaxLength > domain.MaxCancellationReasonLength {
		opts.ReasonMaxLength = domain.MaxCancellationReasonLength
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = 150 * time.Millisecond
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = time.Second
	}
	return &ReservationService{
		capacityRepo:    capacityRepo,
		reservationRepo: reservationRepo,
		ledger:          ledger,
		availability:    availability,
		publisher:       publisher,
		policy:          policy,
		metrics:         m,
		tracer:          tracer,
		opts:            opts,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
}

// CreateReservation 是下单的核心流程：
// 幂等重放检查 -> 快速拒绝 -> 条件扣减 -> 写预订记录（失败则补偿） -> 失效缓存 -> 写幂等记录。
func (s *ReservationService) CreateReservation(ctx context.Context, req *CreateReservationRequest) (*CreateReservationResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateReservation")
	defer span.End()

	if req.Quantity == 0 {
		req.Quantity = 1
	}
	span.SetAttributes(
		attribute.String("resource.id", req.ResourceID),
		attribute.String("user.id", req.Caller.UserID),
		attribute.Int64("reservation.quantity", req.Quantity),
	)

	if err := s.validateCreate(req); err != nil {
		return nil, s.fail(ctx, span, "create", err)
	}

	scope := req.Caller.UserID
	fingerprint := Fingerprint(req.ResourceID, req.Quantity)

	// 1. 幂等重放
	if res, ok, err := s.replay(ctx, scope, req.IdempotencyKey, fingerprint); err != nil {
		return nil, s.fail(ctx, span, "create", err)
	} else if ok {
		span.AddEvent("idempotent replay")
		s.metrics.Outcome("create", "replayed")
		return res, nil
	}

	// 2. 快速拒绝，不做任何写入
	capacity, err := s.capacityRepo.FindActiveCapacity(ctx, req.ResourceID)
	if err != nil {
		return nil, s.fail(ctx, span, "create", err)
	}
	if err := capacity.CheckReservable(req.Quantity); err != nil {
		return nil, s.fail(ctx, span, "create", err)
	}

	// 3. 条件扣减，这是唯一的防超卖保证
	reserved, err := s.capacityRepo.ReserveCapacity(ctx, req.ResourceID, req.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.availability.Invalidate(context.WithoutCancel(ctx), req.ResourceID)
		}
		return nil, s.fail(ctx, span, "create", err)
	}
	span.AddEvent("capacity reserved", trace.WithAttributes(attribute.Int64("capacity.revision", reserved.Revision)))

	comp := newCompensator(s.metrics)
	comp.Add("release_capacity", func(ctx context.Context) error {
		_, err := s.capacityRepo.ReleaseCapacity(ctx, req.ResourceID, req.Quantity)
		return err
	})

	// 4. 写预订记录，票号由本次扣减独占的版本号生成
	reservation := domain.NewReservation(
		s.newID(),
		req.Caller.UserID,
		req.ResourceID,
		domain.TicketCode(req.ResourceID, reserved.Revision),
		req.Quantity,
		req.IdempotencyKey,
		s.now().UTC(),
	)
	if err := s.reservationRepo.CreateReservation(ctx, reservation); err != nil {
		// 5. 补偿：归还已扣减的容量，调用方只看到原始错误
		_ = comp.Trigger(ctx)
		s.availability.Invalidate(context.WithoutCancel(ctx), req.ResourceID)

		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			// 并发的同键请求已经落库，如果它已写入幂等记录就直接重放
			if res, ok, rerr := s.replay(ctx, scope, req.IdempotencyKey, fingerprint); rerr != nil {
				return nil, s.fail(ctx, span, "create", rerr)
			} else if ok {
				s.metrics.Outcome("create", "replayed")
				return res, nil
			}
		}
		return nil, s.fail(ctx, span, "create", err)
	}

	// 6. 扣减结果已确定，失效展示缓存并记录响应
	detached := context.WithoutCancel(ctx)
	s.availability.Invalidate(detached, req.ResourceID)

	dto := ToReservationDTO(reservation)
	body, err := json.Marshal(dto)
	if err != nil {
		return nil, s.fail(ctx, span, "create", errors.Wrap(err, "marshal reservation"))
	}
	result := &CreateReservationResult{
		Reservation: dto,
		StatusCode:  http.StatusCreated,
		Body:        body,
	}
	s.remember(detached, scope, req.IdempotencyKey, port.LedgerEntry{
		StatusCode:  result.StatusCode,
		Body:        body,
		Fingerprint: fingerprint,
	})
	s.publish(detached, domain.EventReservationConfirmed, reservation)

	s.metrics.Outcome("create", "confirmed")
	span.SetAttributes(
		attribute.String("reservation.id", reservation.ID),
		attribute.String("reservation.ticket_code", reservation.TicketCode),
	)
	logger.Ctx(ctx).Info().
		Str("reservation_id", reservation.ID).
		Str("resource_id", reservation.ResourceID).
		Str("ticket_code", reservation.TicketCode).
		Int64("quantity", reservation.Quantity).
		Msg("reservation confirmed")
	return result, nil
}

// CancelReservation 把一条已确认的预订取消并归还容量，每条记录只会归还一次。
func (s *ReservationService) CancelReservation(ctx context.Context, req *CancelReservationRequest) (*ReservationDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.CancelReservation")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation.id", req.ReservationID),
		attribute.String("user.id", req.Caller.UserID),
	)

	reason := strings.TrimSpace(req.Reason)
	switch {
	case req.Caller.UserID == "":
		return nil, s.fail(ctx, span, "cancel", domain.ErrCallerRequired)
	case req.ReservationID == "":
		return nil, s.fail(ctx, span, "cancel", domain.ErrInvalidID)
	case utf8.RuneCountInString(reason) > s.opts.ReasonMaxLength:
		return nil, s.fail(ctx, span, "cancel", domain.ErrReasonTooLong)
	}

	reservation, err := s.loadVisible(ctx, req.ReservationID, req.Caller)
	if err != nil {
		return nil, s.fail(ctx, span, "cancel", err)
	}
	if err := reservation.CanCancel(); err != nil {
		return nil, s.fail(ctx, span, "cancel", err)
	}

	// 条件迁移 confirmed -> cancelled，并发的取消只有一个能成功
	cancelled, err := s.reservationRepo.MarkCancelled(ctx, reservation.ID, reason, s.now().UTC())
	if err != nil {
		return nil, s.fail(ctx, span, "cancel", err)
	}

	// 状态已迁移，后续步骤不再受调用方取消影响
	detached := context.WithoutCancel(ctx)
	if _, err := s.capacityRepo.ReleaseCapacity(detached, reservation.ResourceID, reservation.Quantity); err != nil {
		if rerr := s.reservationRepo.RevertCancellation(detached, reservation.ID); rerr != nil {
			logger.Ctx(ctx).Error().Err(rerr).
				Str("reservation_id", reservation.ID).
				Msg("CRITICAL: failed to revert cancellation after capacity release failed")
			span.RecordError(rerr, trace.WithAttributes(attribute.Bool("critical.error", true)))
		}
		return nil, s.fail(ctx, span, "cancel", errors.Wrap(err, "release capacity"))
	}

	s.availability.Invalidate(detached, reservation.ResourceID)
	s.publish(detached, domain.EventReservationCancelled, cancelled)

	s.metrics.Outcome("cancel", "cancelled")
	logger.Ctx(ctx).Info().
		Str("reservation_id", cancelled.ID).
		Str("resource_id", cancelled.ResourceID).
		Int64("quantity", cancelled.Quantity).
		Msg("reservation cancelled")
	return ToReservationDTO(cancelled), nil
}

// GetReservation 返回调用方可见的一条预订。
func (s *ReservationService) GetReservation(ctx context.Context, caller domain.Caller, id string) (*ReservationDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetReservation")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", id))

	if caller.UserID == "" {
		return nil, domain.ErrCallerRequired
	}
	if id == "" {
		return nil, domain.ErrInvalidID
	}
	r, err := s.loadVisible(ctx, id, caller)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ToReservationDTO(r), nil
}

// ListReservations 默认只列出调用方自己的预订，管理员可以查看任意所有者。
func (s *ReservationService) ListReservations(ctx context.Context, req *ListReservationsRequest) ([]*ReservationDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListReservations")
	defer span.End()

	if req.Caller.UserID == "" {
		return nil, domain.ErrCallerRequired
	}
	status, err := domain.ParseReservationStatus(req.Status)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, domain.ErrInvalidPagination
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := domain.ReservationFilter{
		OwnerID:    req.Caller.UserID,
		ResourceID: req.ResourceID,
		Status:     status,
		Limit:      limit,
		Offset:     req.Offset,
	}
	if s.isElevated(req.Caller) {
		filter.OwnerID = req.OwnerID
	}
	span.SetAttributes(
		attribute.String("filter.owner_id", filter.OwnerID),
		attribute.String("filter.resource_id", filter.ResourceID),
	)

	list, err := s.reservationRepo.ListReservations(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list reservations")
		return nil, err
	}
	out := make([]*ReservationDTO, 0, len(list))
	for _, r := range list {
		out = append(out, ToReservationDTO(r))
	}
	return out, nil
}

func (s *ReservationService) validateCreate(req *CreateReservationRequest) error {
	if req.Caller.UserID == "" {
		return domain.ErrCallerRequired
	}
	if req.ResourceID == "" {
		return domain.ErrInvalidID
	}
	if req.Quantity < 1 || req.Quantity > s.opts.MaxQuantityPerRequest {
		return domain.ErrInvalidQuantity
	}
	if req.IdempotencyKey == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	key, err := uuid.Parse(req.IdempotencyKey)
	if err != nil {
		return domain.ErrInvalidIdempotencyKey
	}
	// 同一个 UUID 的大写、花括号、urn 等写法统一为规范形式
	req.IdempotencyKey = key.String()
	return nil
}

// loadVisible 读取预订；不属于调用方且调用方没有管理权限时按不存在处理。
func (s *ReservationService) loadVisible(ctx context.Context, id string, caller domain.Caller) (*domain.Reservation, error) {
	r, err := s.reservationRepo.FindActiveReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.OwnedBy(caller.UserID) && !s.isElevated(caller) {
		return nil, domain.ErrReservationNotFound
	}
	return r, nil
}

func (s *ReservationService) isElevated(caller domain.Caller) bool {
	return s.policy != nil && s.policy.IsElevated(caller)
}

// replay 查询幂等记录。命中且指纹一致时返回首次的响应；
// 记录不可达时降级为无重放保护继续执行。
func (s *ReservationService) replay(ctx context.Context, scope, key, fingerprint string) (*CreateReservationResult, bool, error) {
	if s.ledger == nil {
		return nil, false, nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.opts.LedgerTimeout)
	defer cancel()

	entry, ok, err := s.ledger.Get(lctx, scope, key)
	if err != nil {
		s.metrics.Cache(ledgerCacheName, "error")
		logger.Ctx(ctx).Warn().Err(err).Str("idempotency_key", key).
			Msg("idempotency ledger unreachable, proceeding without replay protection")
		return nil, false, nil
	}
	if !ok {
		s.metrics.Cache(ledgerCacheName, "miss")
		return nil, false, nil
	}
	s.metrics.Cache(ledgerCacheName, "hit")
	if entry.Fingerprint != fingerprint {
		return nil, false, domain.ErrIdempotencyKeyMismatch
	}

	res := &CreateReservationResult{StatusCode: entry.StatusCode, Body: entry.Body, Replayed: true}
	var dto ReservationDTO
	if err := json.Unmarshal(entry.Body, &dto); err == nil {
		res.Reservation = &dto
	}
	return res, true, nil
}

func (s *ReservationService) remember(ctx context.Context, scope, key string, entry port.LedgerEntry) {
	if s.ledger == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, s.opts.LedgerTimeout)
	defer cancel()
	if err := s.ledger.Put(lctx, scope, key, entry, s.opts.IdempotencyTTL); err != nil {
		s.metrics.Cache(ledgerCacheName, "error")
		logger.Ctx(ctx).Warn().Err(err).Str("idempotency_key", key).
			Msg("failed to record idempotent response, a retry will be rejected as duplicate")
	}
}

// publish 尽力发布领域事件，失败不影响请求结果。
func (s *ReservationService) publish(ctx context.Context, t domain.EventType, r *domain.Reservation) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, domain.NewReservationEvent(t, r, s.now().UTC())); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("reservation_id", r.ID).Str("event", string(t)).
			Msg("failed to publish reservation event")
	}
}

// fail 统一记录失败的 span、指标和日志，并原样返回 err。
func (s *ReservationService) fail(ctx context.Context, span trace.Span, operation string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.Outcome(operation, outcomeOf(err))

	evt := logger.Ctx(ctx).Warn()
	if domain.KindOf(err) == "" {
		evt = logger.Ctx(ctx).Error()
	}
	evt.Err(err).Str("operation", operation).Msg("reservation operation rejected")
	return err
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrSoldOut), errors.Is(err, domain.ErrInsufficientCapacity):
		return "sold_out"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
