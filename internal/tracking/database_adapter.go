package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stripekit/config"
)

// DatabaseAdapter 抽象SQLite和MySQL的差异，让上层代码无需关心具体实现
type DatabaseAdapter interface {
	Open() error
	Close() error
	Ping(ctx context.Context) error

	DB() *sql.DB

	// InitSchema 创建 request_logs 表和索引，可重复执行
	InitSchema() error

	// VacuumDatabase 回收删除记录后的空间
	VacuumDatabase(ctx context.Context) error
	DatabaseSize(ctx context.Context) (int64, error)

	GetConnectionStats() ConnectionStats
	GetDatabaseType() string
}

// DatabaseConfig 统一数据库配置结构
type DatabaseConfig struct {
	Type string // "sqlite" | "mysql"

	// SQLite
	DatabasePath string

	// MySQL
	Host     string
	Port     int
	Database string
	Username string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	Charset  string
	Timezone string
}

// ConnectionStats 连接池统计信息
type ConnectionStats struct {
	OpenConnections  int           `json:"open_connections"`
	IdleConnections  int           `json:"idle_connections"`
	InUseConnections int           `json:"in_use_connections"`
	WaitCount        int64         `json:"wait_count"`
	WaitDuration     time.Duration `json:"wait_duration"`
}

// NewDatabaseAdapter 数据库适配器工厂函数
func NewDatabaseAdapter(cfg DatabaseConfig) (DatabaseAdapter, error) {
	switch dbType := getDatabaseType(cfg); dbType {
	case "sqlite":
		cfg.Type = dbType
		return NewSQLiteAdapter(cfg), nil
	case "mysql":
		cfg.Type = dbType
		return NewMySQLAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// getDatabaseType 从配置推断数据库类型
func getDatabaseType(cfg DatabaseConfig) string {
	if cfg.Type != "" {
		return cfg.Type
	}
	if cfg.Host != "" || cfg.Database != "" {
		return "mysql"
	}
	return "sqlite"
}

// setDefaultConfig 设置数据库配置默认值
func setDefaultConfig(cfg *DatabaseConfig) {
	switch cfg.Type {
	case "mysql":
		if cfg.Port == 0 {
			cfg.Port = 3306
		}
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 10
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 5
		}
		if cfg.ConnMaxLifetime == 0 {
			cfg.ConnMaxLifetime = time.Hour
		}
		if cfg.ConnMaxIdleTime == 0 {
			cfg.ConnMaxIdleTime = 10 * time.Minute
		}
		if cfg.Charset == "" {
			cfg.Charset = "utf8mb4"
		}
		if cfg.Timezone == "" {
			cfg.Timezone = "UTC"
		}
	case "sqlite", "":
		if cfg.DatabasePath == "" {
			cfg.DatabasePath = "data/requests.db"
		}
	}
}

// buildDatabaseConfig 从请求日志配置构建 DatabaseConfig
// 时区优先级: database.timezone > 全局 timezone
func buildDatabaseConfig(cfg config.RequestLogConfig, globalTimezone string) DatabaseConfig {
	var dbConfig DatabaseConfig

	if db := cfg.Database; db != nil {
		dbConfig = DatabaseConfig{
			Type:            db.Type,
			DatabasePath:    db.Path,
			Host:            db.Host,
			Port:            db.Port,
			Database:        db.Database,
			Username:        db.Username,
			Password:        db.Password,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
			Charset:         db.Charset,
			Timezone:        db.Timezone,
		}
		if dbConfig.DatabasePath == "" {
			dbConfig.DatabasePath = cfg.DatabasePath
		}
	} else {
		dbConfig.Type = "sqlite"
		dbConfig.DatabasePath = cfg.DatabasePath
	}

	if dbConfig.Timezone == "" {
		dbConfig.Timezone = globalTimezone
	}
	return dbConfig
}

func limitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset <= 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

func connectionStats(db *sql.DB) ConnectionStats {
	if db == nil {
		return ConnectionStats{}
	}
	s := db.Stats()
	return ConnectionStats{
		OpenConnections:  s.OpenConnections,
		IdleConnections:  s.Idle,
		InUseConnections: s.InUse,
		WaitCount:        s.WaitCount,
		WaitDuration:     s.WaitDuration,
	}
}
