package application

import (
	"context"
	"errors"
	"sync"

	"nexus-reservation/internal/pkg/logger"
	"nexus-reservation/internal/pkg/metrics"
)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// compensator 记录已经生效的副作用对应的补偿动作，失败时按登记的逆序执行。
type compensator struct {
	mu      sync.Mutex
	steps   []compensation
	metrics *metrics.Metrics
}

func newCompensator(m *metrics.Metrics) *compensator {
	return &compensator{metrics: m}
}

// Add 登记一个补偿动作，后登记的先执行。
func (c *compensator) Add(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append([]compensation{{name: name, fn: fn}}, c.steps...)
}

// Trigger 执行全部补偿动作。补偿在脱离调用方取消信号的 context 上运行，
// 调用方断开连接不会让已扣减的容量泄漏。
func (c *compensator) Trigger(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	var errs []error
	for _, step := range c.steps {
		if err := step.fn(detached); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("step", step.name).
				Msg("CRITICAL: compensation failed, capacity may be leaked")
			c.metrics.Compensation("failed")
			errs = append(errs, err)
			continue
		}
		logger.Ctx(ctx).Info().Str("step", step.name).Msg("compensation executed")
		c.metrics.Compensation("ok")
	}
	c.steps = nil
	return errors.Join(errs...)
}
