package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"library-backend/internal/platform/db"
	"library-backend/internal/platform/page"
)

type Store struct{ db *sqlx.DB }

func NewStore(conn *db.Conn) *Store {
	return &Store{db: sqlx.NewDb(conn.DB, string(conn.Dialect))}
}

// withTx は fn がエラーを返すか panic したら ROLLBACK
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ===== books =====

const selectBook = `SELECT id, title, isbn, publication_year, quantity, created_at, updated_at FROM books`

func (s *Store) InsertBook(ctx context.Context, x sqlx.ExtContext, b *Book) error {
	const q = `
	INSERT INTO books (title, isbn, publication_year, quantity, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	res, err := x.ExecContext(ctx, q, b.Title, b.ISBN, b.PublicationYear, b.Quantity, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetBook(ctx context.Context, x sqlx.ExtContext, id int64) (*Book, error) {
	var b Book
	if err := sqlx.GetContext(ctx, x, &b, selectBook+` WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// BookLinks は書籍に紐づく著者・カテゴリIDを昇順で返す
func (s *Store) BookLinks(ctx context.Context, x sqlx.ExtContext, bookID int64) ([]int64, []int64, error) {
	authors := []int64{}
	if err := sqlx.SelectContext(ctx, x, &authors,
		`SELECT author_id FROM book_authors WHERE book_id = ? ORDER BY author_id`, bookID); err != nil {
		return nil, nil, err
	}
	cats := []int64{}
	if err := sqlx.SelectContext(ctx, x, &cats,
		`SELECT category_id FROM book_categories WHERE book_id = ? ORDER BY category_id`, bookID); err != nil {
		return nil, nil, err
	}
	return authors, cats, nil
}

func (s *Store) ListBooks(ctx context.Context, f BookFilter, p page.Page) ([]Book, int64, error) {
	var where strings.Builder
	args := []any{}
	where.WriteString(` WHERE 1=1`)
	if t := strings.TrimSpace(f.Title); t != "" {
		where.WriteString(` AND title LIKE ?`)
		args = append(args, "%"+t+"%")
	}
	if f.AuthorID != nil {
		where.WriteString(` AND EXISTS (SELECT 1 FROM book_authors ba WHERE ba.book_id = books.id AND ba.author_id = ?)`)
		args = append(args, *f.AuthorID)
	}
	if f.CategoryID != nil {
		where.WriteString(` AND EXISTS (SELECT 1 FROM book_categories bc WHERE bc.book_id = books.id AND bc.category_id = ?)`)
		args = append(args, *f.CategoryID)
	}

	var total int64
	if err := sqlx.GetContext(ctx, s.db, &total, `SELECT COUNT(*) FROM books`+where.String(), args...); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`%s%s ORDER BY id %s LIMIT ? OFFSET ?`, selectBook, where.String(), p.SQLOrder())
	items := []Book{}
	if err := sqlx.SelectContext(ctx, s.db, &items, q, append(args, p.Limit, p.Offset)...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) UpdateBook(ctx context.Context, x sqlx.ExtContext, id int64, in UpdateBookRequest, now time.Time) (int64, error) {
	sets := []string{}
	args := []any{}
	if in.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, strings.TrimSpace(*in.Title))
	}
	if in.ISBN != nil {
		sets = append(sets, "isbn = ?")
		args = append(args, strings.TrimSpace(*in.ISBN))
	}
	if in.PublicationYear != nil {
		sets = append(sets, "publication_year = ?")
		args = append(args, *in.PublicationYear)
	}
	if in.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, *in.Quantity)
	}
	// リンクだけの更新でも updated_at は進める
	sets = append(sets, "updated_at = ?")
	args = append(args, now, id)

	q := fmt.Sprintf(`UPDATE books SET %s WHERE id = ?`, strings.Join(sets, ", "))
	res, err := x.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ReplaceBookAuthors(ctx context.Context, x sqlx.ExtContext, bookID int64, ids []int64) error {
	return replaceLinks(ctx, x, "book_authors", "author_id", bookID, ids)
}

func (s *Store) ReplaceBookCategories(ctx context.Context, x sqlx.ExtContext, bookID int64, ids []int64) error {
	return replaceLinks(ctx, x, "book_categories", "category_id", bookID, ids)
}

// table / col は内部定数のみ渡すこと
func replaceLinks(ctx context.Context, x sqlx.ExtContext, table, col string, bookID int64, ids []int64) error {
	if _, err := x.ExecContext(ctx, `DELETE FROM `+table+` WHERE book_id = ?`, bookID); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (book_id, %s) VALUES (?, ?)`, table, col)
	for _, id := range ids {
		if _, err := x.ExecContext(ctx, q, bookID, id); err != nil {
			return err
		}
	}
	return nil
}

// CountExisting は ids のうち table に存在する件数（重複除去済みの ids を渡す）
func (s *Store) CountExisting(ctx context.Context, x sqlx.ExtContext, table string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(`SELECT COUNT(*) FROM `+table+` WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := sqlx.GetContext(ctx, x, &n, x.Rebind(q), args...); err != nil {
		return 0, err
	}
	return n, nil
}

// ===== authors =====

const selectAuthor = `SELECT id, first_name, last_name, created_at, updated_at FROM authors`

func (s *Store) InsertAuthor(ctx context.Context, a *Author) error {
	const q = `INSERT INTO authors (first_name, last_name, created_at, updated_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, a.FirstName, a.LastName, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetAuthor(ctx context.Context, id int64) (*Author, error) {
	var a Author
	if err := sqlx.GetContext(ctx, s.db, &a, selectAuthor+` WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAuthors(ctx context.Context, p page.Page) ([]Author, int64, error) {
	var total int64
	if err := sqlx.GetContext(ctx, s.db, &total, `SELECT COUNT(*) FROM authors`); err != nil {
		return nil, 0, err
	}
	items := []Author{}
	q := selectAuthor + ` ORDER BY id ` + p.SQLOrder() + ` LIMIT ? OFFSET ?`
	if err := sqlx.SelectContext(ctx, s.db, &items, q, p.Limit, p.Offset); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) UpdateAuthor(ctx context.Context, id int64, in UpdateAuthorRequest, now time.Time) (int64, error) {
	sets := []string{}
	args := []any{}
	if in.FirstName != nil {
		sets = append(sets, "first_name = ?")
		args = append(args, strings.TrimSpace(*in.FirstName))
	}
	if in.LastName != nil {
		sets = append(sets, "last_name = ?")
		args = append(args, strings.TrimSpace(*in.LastName))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now, id)

	q := fmt.Sprintf(`UPDATE authors SET %s WHERE id = ?`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAuthor は書籍とのリンクごと消す
func (s *Store) DeleteAuthor(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM book_authors WHERE author_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM authors WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// ===== categories =====

const selectCategory = `SELECT id, name, description, created_at, updated_at FROM categories`

func (s *Store) InsertCategory(ctx context.Context, c *Category) error {
	const q = `INSERT INTO categories (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, c.Name, c.Description, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*Category, error) {
	return s.getCategory(ctx, selectCategory+` WHERE id = ?`, id)
}

func (s *Store) GetCategoryByName(ctx context.Context, name string) (*Category, error) {
	return s.getCategory(ctx, selectCategory+` WHERE name = ?`, name)
}

func (s *Store) getCategory(ctx context.Context, q string, arg any) (*Category, error) {
	var c Category
	if err := sqlx.GetContext(ctx, s.db, &c, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context, p page.Page) ([]Category, int64, error) {
	var total int64
	if err := sqlx.GetContext(ctx, s.db, &total, `SELECT COUNT(*) FROM categories`); err != nil {
		return nil, 0, err
	}
	items := []Category{}
	q := selectCategory + ` ORDER BY id ` + p.SQLOrder() + ` LIMIT ? OFFSET ?`
	if err := sqlx.SelectContext(ctx, s.db, &items, q, p.Limit, p.Offset); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) UpdateCategory(ctx context.Context, id int64, name, description *string, now time.Time) (int64, error) {
	sets := []string{}
	args := []any{}
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *description)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now, id)

	q := fmt.Sprintf(`UPDATE categories SET %s WHERE id = ?`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
