package infrastructure

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexus-reservation/internal/pkg/logger"
)

// MySQLOptions 是打开数据库连接所需的参数。
type MySQLOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// OpenMySQL 打开 MySQL 连接并配置连接池。TranslateError 开启后，
// 唯一键冲突以 gorm.ErrDuplicatedKey 返回。
func OpenMySQL(opts MySQLOptions) (*gorm.DB, error) {
	cfg, err := mysql.ParseDSN(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), NewGormConfig())
	if err != nil {
		return nil, fmt.Errorf("open mysql %s/%s: %w", cfg.Addr, cfg.DBName, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if opts.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	logger.L().Info().Str("addr", cfg.Addr).Str("db", cfg.DBName).Msg("mysql connected")
	return db, nil
}

// NewGormConfig 返回服务统一使用的 GORM 配置，SQL 告警写入 zerolog。
func NewGormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(gormLogWriter{}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// Migrate 创建或更新表结构和索引。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CapacityModel{}, &ReservationModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...interface{}) {
	logger.L().Warn().Str("component", "gorm").Msgf(format, args...)
}
