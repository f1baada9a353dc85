package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"

	"library-backend/internal/platform/db"
	"library-backend/internal/platform/page"
)

const (
	tableBorrowRecords = "borrow_records"

	colID             = "id"
	colULID           = "borrow_ulid"
	colBookID         = "book_id"
	colUserID         = "user_id"
	colBorrowedDate   = "borrowed_date"
	colReturnDate     = "return_date"
	colRealReturnDate = "real_return_date"
)

var borrowColumns = []any{colID, colULID, colBookID, colUserID, colBorrowedDate, colReturnDate, colRealReturnDate}

const selectBorrow = `
	SELECT id, borrow_ulid, book_id, user_id, borrowed_date, return_date, real_return_date
	FROM borrow_records`

// SQLStore は MySQL / SQLite 共通の Repository 実装
type SQLStore struct {
	conn    *db.Conn
	q       db.DBTX
	dialect db.Dialect
}

func NewSQLStore(conn *db.Conn) *SQLStore {
	return &SQLStore{conn: conn, q: conn.DB, dialect: conn.Dialect}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	return db.RunInTx(ctx, s.conn.DB, s.txOptions(), func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, &SQLStore{conn: s.conn, q: tx, dialect: s.dialect})
	})
}

// MySQL は READ COMMITTED + FOR UPDATE、SQLite は BEGIN IMMEDIATE（DSN側）で直列化
func (s *SQLStore) txOptions() *sql.TxOptions {
	if s.dialect == db.MySQL {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}

// ---- books / users / categories ----

func (s *SQLStore) GetBook(ctx context.Context, id int64) (*Book, error) {
	return s.getBook(ctx, id, "")
}

func (s *SQLStore) LockBook(ctx context.Context, id int64) (*Book, error) {
	return s.getBook(ctx, id, s.dialect.ForUpdate())
}

func (s *SQLStore) getBook(ctx context.Context, id int64, lock string) (*Book, error) {
	q := `SELECT id, title, quantity FROM books WHERE id = ?` + lock
	var b Book
	err := s.q.QueryRowContext(ctx, q, id).Scan(&b.ID, &b.Title, &b.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, id, "")
}

func (s *SQLStore) LockUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, id, s.dialect.ForUpdate())
}

func (s *SQLStore) getUser(ctx context.Context, id int64, lock string) (*User, error) {
	q := `SELECT id, email, is_active FROM users WHERE id = ?` + lock
	var u User
	err := s.q.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) CategoryExists(ctx context.Context, id int64, lock bool) (bool, error) {
	q := `SELECT id FROM categories WHERE id = ?`
	if lock {
		q += s.dialect.ForUpdate()
	}
	var got int64
	err := s.q.QueryRowContext(ctx, q, id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---- counts ----

func (s *SQLStore) CountActiveBorrows(ctx context.Context, bookID int64) (int64, error) {
	const q = `SELECT COUNT(*) FROM borrow_records WHERE book_id = ? AND real_return_date IS NULL`
	return s.count(ctx, q, bookID)
}

func (s *SQLStore) CountActiveBorrowsForUser(ctx context.Context, userID int64) (int64, error) {
	const q = `SELECT COUNT(*) FROM borrow_records WHERE user_id = ? AND real_return_date IS NULL`
	return s.count(ctx, q, userID)
}

func (s *SQLStore) CountBooksInCategory(ctx context.Context, categoryID int64) (int64, error) {
	const q = `SELECT COUNT(*) FROM book_categories WHERE category_id = ?`
	return s.count(ctx, q, categoryID)
}

func (s *SQLStore) count(ctx context.Context, q string, args ...any) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ---- borrow records ----

func (s *SQLStore) InsertBorrowRecord(ctx context.Context, r *BorrowRecord) error {
	const q = `
	INSERT INTO borrow_records
	(borrow_ulid, book_id, user_id, borrowed_date, return_date, real_return_date)
	VALUES (?, ?, ?, ?, ?, NULL)`
	res, err := s.q.ExecContext(ctx, q, r.ULID, r.BookID, r.UserID, r.BorrowedDate, nullTimeOrNil(r.ReturnDate))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	r.RealReturnDate = sql.NullTime{}
	return nil
}

func (s *SQLStore) GetBorrowRecord(ctx context.Context, id int64) (*BorrowRecord, error) {
	return s.scanOne(s.q.QueryRowContext(ctx, selectBorrow+` WHERE id = ?`, id))
}

func (s *SQLStore) GetBorrowRecordByULID(ctx context.Context, ulid string) (*BorrowRecord, error) {
	return s.scanOne(s.q.QueryRowContext(ctx, selectBorrow+` WHERE borrow_ulid = ?`, ulid))
}

// MarkReturned は real_return_date を at で上書きする（返却済みでも再スタンプ）
func (s *SQLStore) MarkReturned(ctx context.Context, id int64, at time.Time) (*BorrowRecord, error) {
	rec, err := s.scanOne(s.q.QueryRowContext(ctx, selectBorrow+` WHERE id = ?`+s.dialect.ForUpdate(), id))
	if err != nil || rec == nil {
		return nil, err
	}

	const q = `UPDATE borrow_records SET real_return_date = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, q, at, id); err != nil {
		return nil, err
	}
	rec.RealReturnDate = sql.NullTime{Time: at, Valid: true}
	return rec, nil
}

func (s *SQLStore) ListBorrowRecords(ctx context.Context, f BorrowFilter, p page.Page) ([]BorrowRecord, int64, error) {
	p = p.Normalize()

	base := goqu.Dialect(string(s.dialect)).
		From(tableBorrowRecords).
		Where(f.expressions()...)

	orderBy := []exp.OrderedExpression{goqu.I(colBorrowedDate).Desc(), goqu.I(colID).Desc()}
	if p.Order == "asc" {
		orderBy = []exp.OrderedExpression{goqu.I(colBorrowedDate).Asc(), goqu.I(colID).Asc()}
	}

	selectSQL, args, err := base.
		Select(borrowColumns...).
		Order(orderBy...).
		Limit(uint(p.Limit)).
		Offset(uint(p.Offset)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build borrow list query: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, selectSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []BorrowRecord{}
	for rows.Next() {
		var r BorrowRecord
		if err := rows.Scan(&r.ID, &r.ULID, &r.BookID, &r.UserID, &r.BorrowedDate, &r.ReturnDate, &r.RealReturnDate); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build borrow count query: %w", err)
	}
	var total int64
	if err := s.q.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (f BorrowFilter) expressions() []exp.Expression {
	var ex []exp.Expression
	if f.UserID != nil {
		ex = append(ex, goqu.C(colUserID).Eq(*f.UserID))
	}
	if f.BookID != nil {
		ex = append(ex, goqu.C(colBookID).Eq(*f.BookID))
	}
	if f.Active != nil {
		if *f.Active {
			ex = append(ex, goqu.C(colRealReturnDate).IsNull())
		} else {
			ex = append(ex, goqu.C(colRealReturnDate).IsNotNull())
		}
	}
	return ex
}

func (s *SQLStore) DeleteBorrowRecord(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, `DELETE FROM borrow_records WHERE id = ?`, id)
}

// ---- guarded deletes (呼び出し側でガード済み・Tx内で呼ぶこと) ----

// DeleteBook はリンク行と返却済みの貸出履歴も合わせて消す
func (s *SQLStore) DeleteBook(ctx context.Context, id int64) (int64, error) {
	for _, q := range []string{
		`DELETE FROM book_authors WHERE book_id = ?`,
		`DELETE FROM book_categories WHERE book_id = ?`,
		`DELETE FROM borrow_records WHERE book_id = ? AND real_return_date IS NOT NULL`,
	} {
		if _, err := s.q.ExecContext(ctx, q, id); err != nil {
			return 0, err
		}
	}
	return s.exec(ctx, `DELETE FROM books WHERE id = ?`, id)
}

// DeleteUser は返却済みの貸出履歴も合わせて消す
func (s *SQLStore) DeleteUser(ctx context.Context, id int64) (int64, error) {
	const q = `DELETE FROM borrow_records WHERE user_id = ? AND real_return_date IS NOT NULL`
	if _, err := s.q.ExecContext(ctx, q, id); err != nil {
		return 0, err
	}
	return s.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
}

func (s *SQLStore) DeleteCategory(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, `DELETE FROM categories WHERE id = ?`, id)
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- popularity ----

// 返却済みも含めた貸出件数で集計。同数は id 昇順
func (s *SQLStore) TopBooks(ctx context.Context, limit int) ([]RankRow, error) {
	const q = `
	SELECT b.id, b.title, COUNT(r.id) AS borrow_count
	FROM borrow_records r
	JOIN books b ON b.id = r.book_id
	GROUP BY b.id, b.title
	ORDER BY borrow_count DESC, b.id ASC
	LIMIT ?`
	rows, err := s.q.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RankRow{}
	for rows.Next() {
		var row RankRow
		if err := rows.Scan(&row.ID, &row.Name, &row.BorrowCount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLStore) TopAuthors(ctx context.Context, limit int) ([]RankRow, error) {
	const q = `
	SELECT a.id, a.first_name, a.last_name, COUNT(r.id) AS borrow_count
	FROM borrow_records r
	JOIN book_authors ba ON ba.book_id = r.book_id
	JOIN authors a ON a.id = ba.author_id
	GROUP BY a.id, a.first_name, a.last_name
	ORDER BY borrow_count DESC, a.id ASC
	LIMIT ?`
	rows, err := s.q.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RankRow{}
	for rows.Next() {
		var row RankRow
		var first, last string
		if err := rows.Scan(&row.ID, &first, &last, &row.BorrowCount); err != nil {
			return nil, err
		}
		row.Name = strings.TrimSpace(first + " " + last)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLStore) TopCategories(ctx context.Context, limit int) ([]RankRow, error) {
	const q = `
	SELECT c.id, c.name, COUNT(r.id) AS borrow_count
	FROM borrow_records r
	JOIN book_categories bc ON bc.book_id = r.book_id
	JOIN categories c ON c.id = bc.category_id
	GROUP BY c.id, c.name
	ORDER BY borrow_count DESC, c.id ASC
	LIMIT ?`
	rows, err := s.q.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RankRow{}
	for rows.Next() {
		var row RankRow
		if err := rows.Scan(&row.ID, &row.Name, &row.BorrowCount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ---- helpers ----

func (s *SQLStore) scanOne(row *sql.Row) (*BorrowRecord, error) {
	var r BorrowRecord
	err := row.Scan(&r.ID, &r.ULID, &r.BookID, &r.UserID, &r.BorrowedDate, &r.ReturnDate, &r.RealReturnDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func nullTimeOrNil(nt sql.NullTime) any {
	if nt.Valid {
		return nt.Time
	}
	return nil
}
