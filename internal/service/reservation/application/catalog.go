package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-reservation/internal/pkg/logger"
	"nexus-reservation/internal/pkg/metrics"
	"nexus-reservation/internal/service/reservation/domain"
	"nexus-reservation/internal/service/reservation/domain/port"
)

// CatalogService 维护可预订资源：创建、调整总容量、变更状态和删除。
// 所有操作都要求调用方拥有管理权限。
type CatalogService struct {
	capacityRepo domain.CapacityRepository
	availability *AvailabilityService
	policy       port.AccessPolicy
	metrics      *metrics.Metrics
	tracer       trace.Tracer

	now   func() time.Time
	newID func() string
}

func NewCatalogService(capacityRepo domain.CapacityRepository, availability *AvailabilityService, policy port.AccessPolicy, m *metrics.Metrics, tracer trace.Tracer) *CatalogService {
	return &CatalogService{
		capacityRepo: capacityRepo,
		availability: availability,
		policy:       policy,
		metrics:      m,
		tracer:       tracer,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// CreateResource 创建资源，可用数量等于总容量。
func (s *CatalogService) CreateResource(ctx context.Context, caller domain.Caller, req *CreateResourceRequest) (*ResourceDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateResource")
	defer span.End()

	if err := s.authorize(caller); err != nil {
		return nil, s.fail(ctx, span, "create_resource", err)
	}
	status, err := domain.ParseResourceStatus(req.Status)
	if err != nil {
		return nil, s.fail(ctx, span, "create_resource", err)
	}
	c, err := domain.NewCapacity(s.newID(), req.Name, req.TotalCapacity, status, s.now().UTC())
	if err != nil {
		return nil, s.fail(ctx, span, "create_resource", err)
	}
	if err := s.capacityRepo.CreateCapacity(ctx, c); err != nil {
		return nil, s.fail(ctx, span, "create_resource", err)
	}

	s.metrics.Outcome("create_resource", "created")
	span.SetAttributes(attribute.String("resource.id", c.ID))
	logger.Ctx(ctx).Info().Str("resource_id", c.ID).Int64("total_capacity", c.TotalCapacity).
		Str("status", string(c.Status)).Msg("resource created")
	return ToResourceDTO(c), nil
}

// AdjustCapacity 修改总容量。可用数量按差值平移，不能低于已确认的数量。
func (s *CatalogService) AdjustCapacity(ctx context.Context, caller domain.Caller, id string, newTotal int64) (*ResourceDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdjustCapacity")
	defer span.End()
	span.SetAttributes(attribute.String("resource.id", id), attribute.Int64("capacity.new_total", newTotal))

	if err := s.authorize(caller); err != nil {
		return nil, s.fail(ctx, span, "adjust_capacity", err)
	}
	if id == "" {
		return nil, s.fail(ctx, span, "adjust_capacity", domain.ErrInvalidID)
	}
	if newTotal < 1 {
		return nil, s.fail(ctx, span, "adjust_capacity", domain.ErrInvalidCapacity)
	}
	c, err := s.capacityRepo.AdjustCapacity(ctx, id, newTotal)
	if err != nil {
		return nil, s.fail(ctx, span, "adjust_capacity", err)
	}
	s.availability.Invalidate(context.WithoutCancel(ctx), id)

	s.metrics.Outcome("adjust_capacity", "adjusted")
	logger.Ctx(ctx).Info().Str("resource_id", id).Int64("total_capacity", c.TotalCapacity).
		Int64("available_count", c.AvailableCount).Int64("revision", c.Revision).Msg("capacity adjusted")
	return ToResourceDTO(c), nil
}

// UpdateStatus 按生命周期规则变更资源状态。
func (s *CatalogService) UpdateStatus(ctx context.Context, caller domain.Caller, id, status string) (*ResourceDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateResourceStatus")
	defer span.End()
	span.SetAttributes(attribute.String("resource.id", id), attribute.String("resource.status", status))

	if err := s.authorize(caller); err != nil {
		return nil, s.fail(ctx, span, "update_status", err)
	}
	if id == "" || status == "" {
		return nil, s.fail(ctx, span, "update_status", domain.ErrInvalidResourceStatus)
	}
	next, err := domain.ParseResourceStatus(status)
	if err != nil {
		return nil, s.fail(ctx, span, "update_status", err)
	}
	current, err := s.capacityRepo.FindActiveCapacity(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "update_status", err)
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, s.fail(ctx, span, "update_status", domain.ErrInvalidStatusTransition)
	}
	if current.Status == next {
		return ToResourceDTO(current), nil
	}
	c, err := s.capacityRepo.UpdateStatus(ctx, id, current.Status, next)
	if err != nil {
		return nil, s.fail(ctx, span, "update_status", err)
	}
	s.availability.Invalidate(context.WithoutCancel(ctx), id)

	s.metrics.Outcome("update_status", "updated")
	logger.Ctx(ctx).Info().Str("resource_id", id).Str("from", string(current.Status)).
		Str("to", string(next)).Msg("resource status changed")
	return ToResourceDTO(c), nil
}

// DeleteResource 软删除没有任何已确认预订的资源。
func (s *CatalogService) DeleteResource(ctx context.Context, caller domain.Caller, id string) error {
	ctx, span := s.tracer.Start(ctx, "app.DeleteResource")
	defer span.End()
	span.SetAttributes(attribute.String("resource.id", id))

	if err := s.authorize(caller); err != nil {
		return s.fail(ctx, span, "delete_resource", err)
	}
	if id == "" {
		return s.fail(ctx, span, "delete_resource", domain.ErrInvalidID)
	}
	if err := s.capacityRepo.SoftDeleteCapacity(ctx, id); err != nil {
		return s.fail(ctx, span, "delete_resource", err)
	}
	s.availability.Invalidate(context.WithoutCancel(ctx), id)

	s.metrics.Outcome("delete_resource", "deleted")
	logger.Ctx(ctx).Info().Str("resource_id", id).Msg("resource deleted")
	return nil
}

func (s *CatalogService) authorize(caller domain.Caller) error {
	if caller.UserID == "" {
		return domain.ErrCallerRequired
	}
	if s.policy == nil || !s.policy.IsElevated(caller) {
		return domain.ErrForbidden
	}
	return nil
}

func (s *CatalogService) fail(ctx context.Context, span trace.Span, operation string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.Outcome(operation, outcomeOf(err))
	logger.Ctx(ctx).Warn().Err(err).Str("operation", operation).Msg("catalog operation rejected")
	return err
}
