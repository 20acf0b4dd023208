package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexus-reservation/internal/service/reservation/domain"
)

var (
	_ domain.CapacityRepository    = (*GormCapacityRepository)(nil)
	_ domain.ReservationRepository = (*GormReservationRepository)(nil)
)

// errCapacityChanged 表示读取之后记录已被并发修改，行锁生效时不会出现。
var errCapacityChanged = errors.New("capacity record changed concurrently")

// GormCapacityRepository 是 CapacityRepository 的 GORM 实现。
// available_count 的每次修改都是一条带条件的 UPDATE，并在同一条语句里递增 revision。
type GormCapacityRepository struct {
	db *gorm.DB
}

// NewGormCapacityRepository 创建一个新的 GORM 仓储实例
func NewGormCapacityRepository(db *gorm.DB) *GormCapacityRepository {
	return &GormCapacityRepository{db: db}
}

func (r *GormCapacityRepository) FindActiveCapacity(ctx context.Context, id string) (*domain.Capacity, error) {
	return findCapacity(r.db.WithContext(ctx), id)
}

// ReserveCapacity 执行条件扣减。扣减和读取更新后的记录在同一个事务中完成，
// 行锁保证读到的 revision 就是本次扣减写入的值。
func (r *GormCapacityRepository) ReserveCapacity(ctx context.Context, id string, quantity int64) (*domain.Capacity, error) {
	var out *domain.Capacity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&CapacityModel{}).
			Where("id = ? AND status = ? AND available_count >= ?", id, string(domain.ResourceOpen), quantity).
			Updates(map[string]interface{}{
				"available_count": gorm.Expr("available_count - ?", quantity),
				"revision":        gorm.Expr("revision + 1"),
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 条件未满足：区分资源不存在、未开放和已售罄
			c, err := findCapacity(tx, id)
			if err != nil {
				return err
			}
			if c.Status != domain.ResourceOpen {
				return domain.ErrResourceNotOpen
			}
			return domain.ErrSoldOut
		}
		c, err := findCapacity(tx, id)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseCapacity 无条件归还容量。
func (r *GormCapacityRepository) ReleaseCapacity(ctx context.Context, id string, quantity int64) (*domain.Capacity, error) {
	var out *domain.Capacity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&CapacityModel{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"available_count": gorm.Expr("available_count + ?", quantity),
				"revision":        gorm.Expr("revision + 1"),
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrResourceNotFound
		}
		c, err := findCapacity(tx, id)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormCapacityRepository) CreateCapacity(ctx context.Context, c *domain.Capacity) error {
	return r.db.WithContext(ctx).Create(FromDomainCapacity(c)).Error
}

// AdjustCapacity 修改总容量，可用数量按差值平移。
// 在事务内以 FOR UPDATE 读取当前行，再以 revision 为条件写入计算好的值。
func (r *GormCapacityRepository) AdjustCapacity(ctx context.Context, id string, newTotal int64) (*domain.Capacity, error) {
	var out *domain.Capacity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := findCapacity(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		available := cur.AvailableCount + newTotal - cur.TotalCapacity
		if available < 0 {
			return domain.ErrCapacityBelowReserved
		}
		res := tx.Model(&CapacityModel{}).
			Where("id = ? AND revision = ?", id, cur.Revision).
			Updates(map[string]interface{}{
				"available_count": available,
				"total_capacity":  newTotal,
				"revision":        cur.Revision + 1,
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errCapacityChanged
		}
		c, err := findCapacity(tx, id)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormCapacityRepository) UpdateStatus(ctx context.Context, id string, from, to domain.ResourceStatus) (*domain.Capacity, error) {
	var out *domain.Capacity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&CapacityModel{}).
			Where("id = ? AND status = ?", id, string(from)).
			Updates(map[string]interface{}{
				"status":     string(to),
				"revision":   gorm.Expr("revision + 1"),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := findCapacity(tx, id); err != nil {
				return err
			}
			return domain.ErrInvalidStatusTransition
		}
		c, err := findCapacity(tx, id)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDeleteCapacity 只在没有已确认预订（available = total）时写入删除标记。
func (r *GormCapacityRepository) SoftDeleteCapacity(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&CapacityModel{}).
			Where("id = ? AND available_count = total_capacity", id).
			Updates(map[string]interface{}{
				"deleted_at": now,
				"revision":   gorm.Expr("revision + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := findCapacity(tx, id); err != nil {
				return err
			}
			return domain.ErrResourceHasReservations
		}
		return nil
	})
}

func findCapacity(db *gorm.DB, id string) (*domain.Capacity, error) {
	var model CapacityModel
	if err := db.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	return ToDomainCapacity(&model), nil
}

// GormReservationRepository 是 ReservationRepository 的 GORM 实现。
type GormReservationRepository struct {
	db *gorm.DB
}

// NewGormReservationRepository 创建一个新的 GORM 仓储实例
func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// CreateReservation 插入记录，并把唯一索引冲突翻译为领域错误。
func (r *GormReservationRepository) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	db := r.db.WithContext(ctx)
	err := db.Create(FromDomainReservation(res)).Error
	if err == nil || !isDuplicateKey(err) {
		return err
	}
	var n int64
	if cerr := db.Unscoped().Model(&ReservationModel{}).
		Where("idempotency_key = ?", res.IdempotencyKey).
		Count(&n).Error; cerr != nil {
		return cerr
	}
	if n > 0 {
		return domain.ErrDuplicateIdempotencyKey
	}
	return domain.ErrDuplicateTicketCode
}

func (r *GormReservationRepository) FindActiveReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return findReservation(r.db.WithContext(ctx), id)
}

// MarkCancelled 以 status = 'confirmed' 为条件取消，保证同一条记录只会被取消一次。
func (r *GormReservationRepository) MarkCancelled(ctx context.Context, id, reason string, at time.Time) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ReservationModel{}).
			Where("id = ? AND status = ?", id, string(domain.ReservationConfirmed)).
			Updates(map[string]interface{}{
				"status":              string(domain.ReservationCancelled),
				"cancelled_at":        at,
				"cancellation_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := findReservation(tx, id); err != nil {
				return err
			}
			return domain.ErrAlreadyCancelled
		}
		found, err := findReservation(tx, id)
		out = found
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormReservationRepository) RevertCancellation(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("id = ? AND status = ?", id, string(domain.ReservationCancelled)).
		Updates(map[string]interface{}{
			"status":              string(domain.ReservationConfirmed),
			"cancelled_at":        nil,
			"cancellation_reason": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *GormReservationRepository) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]*domain.Reservation, error) {
	q := r.db.WithContext(ctx).Model(&ReservationModel{})
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.ResourceID != "" {
		q = q.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []ReservationModel
	if err := q.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, ToDomainReservation(&models[i]))
	}
	return out, nil
}

func findReservation(db *gorm.DB, id string) (*domain.Reservation, error) {
	var model ReservationModel
	if err := db.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	return ToDomainReservation(&model), nil
}

// mysqlDuplicateEntry 是 MySQL 唯一键冲突的错误码。
const mysqlDuplicateEntry = 1062

// isDuplicateKey 识别唯一索引冲突：开启 TranslateError 时为 gorm.ErrDuplicatedKey，
// 否则检查 MySQL 原始错误码。
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
