// Package dbtest はテスト用の一時SQLiteとフィクスチャ投入ヘルパ。
package dbtest

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/db"
)

// Open は t.TempDir() 上にスキーマ適用済みのDBを作る。Close は t.Cleanup で行う
func Open(t *testing.T) *db.Conn {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

var (
	base = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	seq  atomic.Int64
)

func exec(t *testing.T, conn *db.Conn, q string, args ...any) int64 {
	t.Helper()
	res, err := conn.Exec(q, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func InsertUser(t *testing.T, conn *db.Conn, email string, active bool) int64 {
	t.Helper()
	return exec(t, conn,
		`INSERT INTO users (first_name, last_name, email, hashed_password, is_active, registration_date) VALUES (?, ?, ?, ?, ?, ?)`,
		"Test", "User", email, "x", active, base)
}

func InsertBook(t *testing.T, conn *db.Conn, title string, quantity int64) int64 {
	t.Helper()
	return exec(t, conn,
		`INSERT INTO books (title, isbn, publication_year, quantity, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		title, fmt.Sprintf("isbn-%d", seq.Add(1)), 2000, quantity, base, base)
}

func InsertAuthor(t *testing.T, conn *db.Conn, first, last string) int64 {
	t.Helper()
	return exec(t, conn,
		`INSERT INTO authors (first_name, last_name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		first, last, base, base)
}

func InsertCategory(t *testing.T, conn *db.Conn, name string) int64 {
	t.Helper()
	return exec(t, conn,
		`INSERT INTO categories (name, created_at, updated_at) VALUES (?, ?, ?)`,
		name, base, base)
}

func LinkAuthor(t *testing.T, conn *db.Conn, bookID, authorID int64) {
	t.Helper()
	exec(t, conn, `INSERT INTO book_authors (book_id, author_id) VALUES (?, ?)`, bookID, authorID)
}

func LinkCategory(t *testing.T, conn *db.Conn, bookID, categoryID int64) {
	t.Helper()
	exec(t, conn, `INSERT INTO book_categories (book_id, category_id) VALUES (?, ?)`, bookID, categoryID)
}

// InsertBorrow は貸出レコードを直接入れる。returned=true なら返却済み
func InsertBorrow(t *testing.T, conn *db.Conn, bookID, userID int64, returned bool) int64 {
	t.Helper()
	var rrd sql.NullTime
	if returned {
		rrd = sql.NullTime{Time: base.Add(48 * time.Hour), Valid: true}
	}
	return exec(t, conn,
		`INSERT INTO borrow_records (borrow_ulid, book_id, user_id, borrowed_date, return_date, real_return_date) VALUES (?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("fixture-%d", seq.Add(1)),
		bookID, userID, base, base.AddDate(0, 0, 14), rrd)
}

// SetQuantity は在庫数を直接書き換える（外部更新の再現用）
func SetQuantity(t *testing.T, conn *db.Conn, bookID, quantity int64) {
	t.Helper()
	_, err := conn.Exec(`UPDATE books SET quantity = ? WHERE id = ?`, quantity, bookID)
	require.NoError(t, err)
}
