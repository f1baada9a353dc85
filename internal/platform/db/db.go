package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"library-backend/internal/platform/config"
)

type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite3"
)

// ForUpdate は行ロック句。SQLite は BEGIN IMMEDIATE でDB全体を書き込みロックするので空
func (d Dialect) ForUpdate() string {
	if d == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// Conn は接続プールと方言をまとめたもの
type Conn struct {
	*sql.DB
	Dialect Dialect
}

func Connect(c config.DatabaseConfig) (*Conn, error) {
	switch Dialect(c.Driver) {
	case SQLite:
		return OpenSQLite(c.Path)
	case MySQL, "":
		return openMySQL(c)
	default:
		return nil, fmt.Errorf("unsupported driver %q", c.Driver)
	}
}

func openMySQL(c config.DatabaseConfig) (*Conn, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.DBName)

	db, err := sql.Open(string(MySQL), dsn)
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	db.SetMaxOpenConns(80)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Conn{DB: db, Dialect: MySQL}, nil
}

// OpenSQLite は単体運用・テスト用。書き込みTxは BEGIN IMMEDIATE で直列化される
func OpenSQLite(path string) (*Conn, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_foreign_keys=1&_txlock=immediate&_journal_mode=WAL", path)
	db, err := sql.Open(string(SQLite), dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ApplySQLiteSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &Conn{DB: db, Dialect: SQLite}, nil
}
