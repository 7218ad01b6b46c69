package tracking

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

//go:embed schema_mysql.sql
var mysqlSchema string

// MySQLAdapter MySQL数据库适配器实现
type MySQLAdapter struct {
	config DatabaseConfig
	db     *sql.DB
	logger *slog.Logger
}

// NewMySQLAdapter 创建MySQL适配器实例
func NewMySQLAdapter(cfg DatabaseConfig) *MySQLAdapter {
	setDefaultConfig(&cfg)
	return &MySQLAdapter{
		config: cfg,
		logger: slog.Default(),
	}
}

// Open 建立MySQL数据库连接
func (m *MySQLAdapter) Open() error {
	dsn, err := m.buildDSN()
	if err != nil {
		return fmt.Errorf("failed to build DSN: %w", err)
	}

	m.logger.Info("正在连接MySQL数据库",
		"host", m.config.Host,
		"database", m.config.Database,
		"charset", m.config.Charset)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(m.config.MaxOpenConns)
	db.SetMaxIdleConns(m.config.MaxIdleConns)
	db.SetConnMaxLifetime(m.config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(m.config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	m.db = db
	m.logger.Info("✅ MySQL数据库连接成功",
		"max_open_conns", m.config.MaxOpenConns,
		"max_idle_conns", m.config.MaxIdleConns)
	return nil
}

// buildDSN 构建MySQL连接字符串
func (m *MySQLAdapter) buildDSN() (string, error) {
	if m.config.Host == "" {
		return "", fmt.Errorf("MySQL host is required")
	}
	if m.config.Database == "" {
		return "", fmt.Errorf("MySQL database name is required")
	}
	if m.config.Username == "" {
		return "", fmt.Errorf("MySQL username is required")
	}

	loc, err := time.LoadLocation(m.config.Timezone)
	if err != nil {
		m.logger.Warn("MySQL时区解析失败，使用UTC", "timezone", m.config.Timezone, "error", err)
		loc = time.UTC
	}

	cfg := mysql.NewConfig()
	cfg.User = m.config.Username
	cfg.Passwd = m.config.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	cfg.DBName = m.config.Database
	cfg.ParseTime = true
	cfg.Loc = loc
	cfg.Timeout = 30 * time.Second
	cfg.ReadTimeout = 30 * time.Second
	cfg.WriteTimeout = 30 * time.Second
	// 握手时通过排序规则指定字符集
	cfg.Collation = m.config.Charset + "_general_ci"

	return cfg.FormatDSN(), nil
}

func (m *MySQLAdapter) Close() error {
	if m.db != nil {
		m.logger.Info("正在关闭MySQL数据库连接")
		return m.db.Close()
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("database not connected")
	}
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) DB() *sql.DB {
	return m.db
}

// InitSchema 初始化MySQL数据库Schema
// 驱动默认不允许多语句，逐条执行
func (m *MySQLAdapter) InitSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i, stmt := range splitSQLStatements(mysqlSchema) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			m.logger.Error("执行Schema语句失败",
				"statement_index", i,
				"error", err,
				"sql", stmt[:min(100, len(stmt))])
			return fmt.Errorf("failed to execute schema statement %d: %w", i, err)
		}
	}

	m.logger.Debug("MySQL数据库Schema初始化完成")
	return nil
}

// VacuumDatabase MySQL没有VACUUM操作，执行OPTIMIZE TABLE
func (m *MySQLAdapter) VacuumDatabase(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "OPTIMIZE TABLE request_logs"); err != nil {
		// OPTIMIZE TABLE失败不是致命问题
		m.logger.Warn("表优化失败", "table", "request_logs", "error", err)
	}
	return nil
}

func (m *MySQLAdapter) DatabaseSize(ctx context.Context) (int64, error) {
	var dataLength, indexLength sql.NullInt64
	query := `SELECT SUM(data_length), SUM(index_length)
		FROM information_schema.tables
		WHERE table_schema = DATABASE()`
	if err := m.db.QueryRowContext(ctx, query).Scan(&dataLength, &indexLength); err != nil {
		return 0, fmt.Errorf("failed to read table sizes: %w", err)
	}
	return dataLength.Int64 + indexLength.Int64, nil
}

func (m *MySQLAdapter) GetConnectionStats() ConnectionStats {
	return connectionStats(m.db)
}

func (m *MySQLAdapter) GetDatabaseType() string {
	return "mysql"
}

// splitSQLStatements 按分号拆分语句，跳过注释行和空语句
func splitSQLStatements(schema string) []string {
	var lines []string
	for _, line := range strings.Split(schema, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
