package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexus-reservation/internal/service/reservation/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库在单连接下串行执行事务
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func seedCapacity(t *testing.T, repo *GormCapacityRepository, id string, total int64) {
	t.Helper()
	c, err := domain.NewCapacity(id, "event "+id, total, domain.ResourceOpen, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.CreateCapacity(context.Background(), c))
}

func newReservation(resourceID, owner string, quantity, revision int64) *domain.Reservation {
	return domain.NewReservation(uuid.NewString(), owner, resourceID, domain.TicketCode(resourceID, revision),
		quantity, uuid.NewString(), time.Now().UTC())
}

func TestCapacityRepository_ReserveAndRelease(t *testing.T) {
	repo := NewGormCapacityRepository(newTestDB(t))
	ctx := context.Background()
	seedCapacity(t, repo, "E", 3)

	c, err := repo.ReserveCapacity(ctx, "E", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.AvailableCount)
	assert.Equal(t, int64(2), c.Revision)

	_, err = repo.ReserveCapacity(ctx, "E", 2)
	assert.ErrorIs(t, err, domain.ErrSoldOut)

	_, err = repo.ReserveCapacity(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	c, err = repo.ReleaseCapacity(ctx, "E", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.AvailableCount)
	assert.Equal(t, int64(3), c.Revision)

	_, err = repo.ReleaseCapacity(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestCapacityRepository_ConcurrentReserveNeverOversells(t *testing.T) {
	repo := NewGormCapacityRepository(newTestDB(t))
	seedCapacity(t, repo, "E", 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		revisions = map[int64]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := repo.ReserveCapacity(context.Background(), "E", 1)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrSoldOut)
				return
			}
			mu.Lock()
			revisions[c.Revision] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, revisions, 5)
	c, err := repo.FindActiveCapacity(context.Background(), "E")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.AvailableCount)
	assert.Equal(t, int64(6), c.Revision)
}

func TestCapacityRepository_AdjustCapacity(t *testing.T) {
	repo := NewGormCapacityRepository(newTestDB(t))
	ctx := context.Background()
	seedCapacity(t, repo, "E", 10)
	_, err := repo.ReserveCapacity(ctx, "E", 6)
	require.NoError(t, err)

	c, err := repo.AdjustCapacity(ctx, "E", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.TotalCapacity)
	assert.Equal(t, int64(2), c.AvailableCount)

	_, err = repo.AdjustCapacity(ctx, "E", 5)
	assert.ErrorIs(t, err, domain.ErrCapacityBelowReserved)

	c, err = repo.AdjustCapacity(ctx, "E", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(14), c.AvailableCount)
	assert.Equal(t, int64(6), c.ConfirmedCount())

	_, err = repo.AdjustCapacity(ctx, "missing", 5)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestCapacityRepository_ReserveRequiresOpenStatus(t *testing.T) {
	repo := NewGormCapacityRepository(newTestDB(t))
	ctx := context.Background()
	seedCapacity(t, repo, "E", 3)

	_, err := repo.UpdateStatus(ctx, "E", domain.ResourceOpen, domain.ResourceClosed)
	require.NoError(t, err)

	_, err = repo.ReserveCapacity(ctx, "E", 1)
	assert.ErrorIs(t, err, domain.ErrResourceNotOpen)

	c, err := repo.FindActiveCapacity(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.AvailableCount)
	assert.Equal(t, int64(2), c.Revision)
}

func TestCapacityRepository_AdjustConcurrentWithReservations(t *testing.T) {
	repo := NewGormCapacityRepository(newTestDB(t))
	ctx := context.Background()
	seedCapacity(t, repo, "E", 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := repo.ReserveCapacity(ctx, "E", 1); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
		go func(total int64) {
			defer wg.Done()
			_, _ = repo.AdjustCapacity(ctx, "E", total)
		}(int64(10 + i))
	}
	wg.Wait()

	c, err := repo.FindActiveCapacity(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, reserved, c.ConfirmedCount())
	assert.GreaterOrEqual(t, c.AvailableCount, int64(0))
	assert.LessOrEqual(t, c.AvailableCount, c.TotalCapacity)
}

func TestCapacityRepository_StatusAndSoftDelete(t *testing.T) {
	repo := NewGormCapacityRepository(newTestDB(t))
	ctx := context.Background()
	seedCapacity(t, repo, "E", 2)

	c, err := repo.UpdateStatus(ctx, "E", domain.ResourceOpen, domain.ResourceClosed)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceClosed, c.Status)

	_, err = repo.UpdateStatus(ctx, "E", domain.ResourceOpen, domain.ResourceCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	_, err = repo.UpdateStatus(ctx, "E", domain.ResourceClosed, domain.ResourceOpen)
	require.NoError(t, err)
	_, err = repo.ReserveCapacity(ctx, "E", 1)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.SoftDeleteCapacity(ctx, "E"), domain.ErrResourceHasReservations)

	_, err = repo.ReleaseCapacity(ctx, "E", 1)
	require.NoError(t, err)
	require.NoError(t, repo.SoftDeleteCapacity(ctx, "E"))

	_, err = repo.FindActiveCapacity(ctx, "E")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	_, err = repo.ReserveCapacity(ctx, "E", 1)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	assert.ErrorIs(t, repo.SoftDeleteCapacity(ctx, "E"), domain.ErrResourceNotFound)
}

func TestReservationRepository_UniqueConstraints(t *testing.T) {
	repo := NewGormReservationRepository(newTestDB(t))
	ctx := context.Background()

	first := newReservation("E", "alice", 1, 2)
	require.NoError(t, repo.CreateReservation(ctx, first))

	sameKey := newReservation("E", "bob", 1, 3)
	sameKey.IdempotencyKey = first.IdempotencyKey
	assert.ErrorIs(t, repo.CreateReservation(ctx, sameKey), domain.ErrDuplicateIdempotencyKey)

	sameTicket := newReservation("E", "bob", 1, 2)
	assert.ErrorIs(t, repo.CreateReservation(ctx, sameTicket), domain.ErrDuplicateTicketCode)

	got, err := repo.FindActiveReservation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TicketCode, got.TicketCode)
	assert.Equal(t, domain.ReservationConfirmed, got.Status)
	assert.Nil(t, got.CancelledAt)

	_, err = repo.FindActiveReservation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestReservationRepository_CancelOnce(t *testing.T) {
	repo := NewGormReservationRepository(newTestDB(t))
	ctx := context.Background()
	r := newReservation("E", "alice", 2, 2)
	require.NoError(t, repo.CreateReservation(ctx, r))

	at := time.Now().UTC().Truncate(time.Second)
	cancelled, err := repo.MarkCancelled(ctx, r.ID, "changed plans", at)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCancelled, cancelled.Status)
	assert.Equal(t, "changed plans", cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, at.Equal(cancelled.CancelledAt.UTC()))

	_, err = repo.MarkCancelled(ctx, r.ID, "again", at)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
	_, err = repo.MarkCancelled(ctx, "missing", "", at)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	require.NoError(t, repo.RevertCancellation(ctx, r.ID))
	got, err := repo.FindActiveReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, got.Status)
	assert.Nil(t, got.CancelledAt)
	assert.Empty(t, got.CancellationReason)

	assert.ErrorIs(t, repo.RevertCancellation(ctx, r.ID), domain.ErrReservationNotFound)
}

func TestReservationRepository_List(t *testing.T) {
	repo := NewGormReservationRepository(newTestDB(t))
	ctx := context.Background()

	for i, owner := range []string{"alice", "alice", "bob"} {
		r := newReservation("E", owner, 1, int64(i+2))
		r.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.CreateReservation(ctx, r))
	}
	other := newReservation("F", "alice", 1, 2)
	require.NoError(t, repo.CreateReservation(ctx, other))
	_, err := repo.MarkCancelled(ctx, other.ID, "", time.Now().UTC())
	require.NoError(t, err)

	list, err := repo.ListReservations(ctx, domain.ReservationFilter{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = repo.ListReservations(ctx, domain.ReservationFilter{ResourceID: "E", Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].OwnerID)

	list, err = repo.ListReservations(ctx, domain.ReservationFilter{OwnerID: "alice", Status: domain.ReservationCancelled})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, other.ID, list[0].ID)

	list, err = repo.ListReservations(ctx, domain.ReservationFilter{Limit: 10, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})))
	assert.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isDuplicateKey(nil))
}

func TestOpenMySQLRejectsBadDSN(t *testing.T) {
	_, err := OpenMySQL(MySQLOptions{DSN: "not a dsn"})
	assert.Error(t, err)
}
