package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"nexus-reservation/internal/pkg/logger"
	"nexus-reservation/internal/pkg/metrics"
	"nexus-reservation/internal/service/reservation/domain"
	"nexus-reservation/internal/service/reservation/domain/port"
)

const (
	availabilityCacheName = "availability"

	defaultLoadTimeout = 2 * time.Second
)

// AvailabilityService 提供读穿透、写失效的可用量查询。
// 缓存只服务于展示，下单时的扣减判断从不读取它。
type AvailabilityService struct {
	capacityRepo domain.CapacityRepository
	cache        port.AvailabilityCache
	ttl          time.Duration
	timeout      time.Duration
	loadTimeout  time.Duration
	group        singleflight.Group
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

// NewAvailabilityService 创建服务。cache 为 nil 时每次都直接读取仓储。
func NewAvailabilityService(capacityRepo domain.CapacityRepository, cache port.AvailabilityCache, ttl, timeout time.Duration, m *metrics.Metrics, tracer trace.Tracer) *AvailabilityService {
	return &AvailabilityService{
		capacityRepo: capacityRepo,
		cache:        cache,
		ttl:          ttl,
		timeout:      timeout,
		loadTimeout:  defaultLoadTimeout,
		metrics:      m,
		tracer:       tracer,
		now:          time.Now,
	}
}

// GetAvailability 返回资源的可用量快照。缓存不可用时退化为直接读取仓储。
// 同一资源并发的未命中请求会合并为一次仓储读取。
func (s *AvailabilityService) GetAvailability(ctx context.Context, resourceID string) (*domain.Availability, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetAvailability")
	defer span.End()
	span.SetAttributes(attribute.String("resource.id", resourceID))

	if resourceID == "" {
		return nil, domain.ErrInvalidID
	}
	if snap, ok := s.cacheGet(ctx, resourceID); ok {
		span.AddEvent("availability cache hit")
		return snap, nil
	}

	v, err, shared := s.group.Do(resourceID, func() (interface{}, error) {
		// 合并后的读取由所有等待者共享，不随发起者取消
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		c, err := s.capacityRepo.FindActiveCapacity(lctx, resourceID)
		if err != nil {
			return nil, err
		}
		snap := domain.SnapshotOf(c, s.now().UTC())
		s.cacheSet(lctx, snap)
		return snap, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load availability")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	snap := *v.(*domain.Availability)
	return &snap, nil
}

// Invalidate 删除资源的缓存快照。失败只记录告警，由 TTL 兜底。
func (s *AvailabilityService) Invalidate(ctx context.Context, resourceID string) {
	if s == nil || s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.cache.Delete(cctx, resourceID); err != nil {
		s.metrics.Cache(availabilityCacheName, "error")
		logger.Ctx(ctx).Warn().Err(err).Str("resource_id", resourceID).Msg("availability cache invalidation failed")
	}
}

func (s *AvailabilityService) cacheGet(ctx context.Context, resourceID string) (*domain.Availability, bool) {
	if s.cache == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	snap, ok, err := s.cache.Get(cctx, resourceID)
	switch {
	case err != nil:
		s.metrics.Cache(availabilityCacheName, "error")
		logger.Ctx(ctx).Warn().Err(err).Str("resource_id", resourceID).Msg("availability cache read failed, falling back to store")
		return nil, false
	case !ok:
		s.metrics.Cache(availabilityCacheName, "miss")
		return nil, false
	default:
		s.metrics.Cache(availabilityCacheName, "hit")
		return snap, true
	}
}

func (s *AvailabilityService) cacheSet(ctx context.Context, snap *domain.Availability) {
	if s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.cache.Set(cctx, snap, s.ttl); err != nil {
		s.metrics.Cache(availabilityCacheName, "error")
		logger.Ctx(ctx).Warn().Err(err).Str("resource_id", snap.ResourceID).Msg("availability cache write failed")
	}
}
