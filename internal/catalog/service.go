package catalog

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/unicode/norm"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/page"
)

type Service struct {
	store *Store
	now   func() time.Time
}

func NewService(store *Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// ===== books =====

func (s *Service) CreateBook(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	title, isbn := strings.TrimSpace(in.Title), strings.TrimSpace(in.ISBN)
	if title == "" || isbn == "" {
		return BookResponse{}, apierr.Invalid("title and isbn are required")
	}
	qty := int64(1)
	if in.Quantity != nil {
		qty = *in.Quantity
	}
	if qty < 0 {
		return BookResponse{}, apierr.Invalid("quantity must be >= 0")
	}
	authors, cats := uniqIDs(in.AuthorIDs), uniqIDs(in.CategoryIDs)

	now := s.now()
	b := Book{
		Title:           title,
		ISBN:            isbn,
		PublicationYear: in.PublicationYear,
		Quantity:        qty,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.store.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkRefs(ctx, tx, authors, cats); err != nil {
			return err
		}
		if err := s.store.InsertBook(ctx, tx, &b); err != nil {
			return classify(err, "insert book", "isbn already exists")
		}
		if err := s.store.ReplaceBookAuthors(ctx, tx, b.ID, authors); err != nil {
			return classify(err, "link authors", "")
		}
		if err := s.store.ReplaceBookCategories(ctx, tx, b.ID, cats); err != nil {
			return classify(err, "link categories", "")
		}
		return nil
	})
	if err != nil {
		return BookResponse{}, apierr.Storage(err, "create book")
	}
	log.Printf("[INFO] book created id=%d isbn=%s quantity=%d", b.ID, b.ISBN, b.Quantity)
	return BookResponse{Book: b, AuthorIDs: authors, CategoryIDs: cats}, nil
}

func (s *Service) GetBook(ctx context.Context, id int64) (BookResponse, error) {
	b, err := s.store.GetBook(ctx, s.store.db, id)
	if err != nil {
		return BookResponse{}, apierr.Storage(err, "get book")
	}
	if b == nil {
		return BookResponse{}, apierr.NotFound(fmt.Sprintf("book %d not found", id))
	}
	authors, cats, err := s.store.BookLinks(ctx, s.store.db, id)
	if err != nil {
		return BookResponse{}, apierr.Storage(err, "get book links")
	}
	return BookResponse{Book: *b, AuthorIDs: authors, CategoryIDs: cats}, nil
}

func (s *Service) ListBooks(ctx context.Context, f BookFilter, p page.Page) ([]Book, int64, error) {
	items, total, err := s.store.ListBooks(ctx, f, p.Normalize())
	if err != nil {
		return nil, 0, apierr.Storage(err, "list books")
	}
	return items, total, nil
}

func (s *Service) UpdateBook(ctx context.Context, id int64, in UpdateBookRequest) (BookResponse, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return BookResponse{}, apierr.Invalid("title must not be blank")
	}
	if in.ISBN != nil && strings.TrimSpace(*in.ISBN) == "" {
		return BookResponse{}, apierr.Invalid("isbn must not be blank")
	}
	if in.Quantity != nil && *in.Quantity < 0 {
		return BookResponse{}, apierr.Invalid("quantity must be >= 0")
	}

	err := s.store.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := s.store.GetBook(ctx, tx, id)
		if err != nil {
			return apierr.Storage(err, "get book")
		}
		if cur == nil {
			return apierr.NotFound(fmt.Sprintf("book %d not found", id))
		}

		var authors, cats []int64
		if in.AuthorIDs != nil {
			authors = uniqIDs(*in.AuthorIDs)
		}
		if in.CategoryIDs != nil {
			cats = uniqIDs(*in.CategoryIDs)
		}
		if err := s.checkRefs(ctx, tx, authors, cats); err != nil {
			return err
		}

		if _, err := s.store.UpdateBook(ctx, tx, id, in, s.now()); err != nil {
			return classify(err, "update book", "isbn already exists")
		}
		if in.AuthorIDs != nil {
			if err := s.store.ReplaceBookAuthors(ctx, tx, id, authors); err != nil {
				return classify(err, "link authors", "")
			}
		}
		if in.CategoryIDs != nil {
			if err := s.store.ReplaceBookCategories(ctx, tx, id, cats); err != nil {
				return classify(err, "link categories", "")
			}
		}
		return nil
	})
	if err != nil {
		return BookResponse{}, apierr.Storage(err, "update book")
	}
	return s.GetBook(ctx, id)
}

// checkRefs は指定された著者・カテゴリが全て存在するか確かめる
func (s *Service) checkRefs(ctx context.Context, x sqlx.ExtContext, authors, cats []int64) error {
	for _, ref := range []struct {
		table string
		ids   []int64
	}{{"authors", authors}, {"categories", cats}} {
		if len(ref.ids) == 0 {
			continue
		}
		n, err := s.store.CountExisting(ctx, x, ref.table, ref.ids)
		if err != nil {
			return apierr.Storage(err, "check "+ref.table)
		}
		if n != int64(len(ref.ids)) {
			return apierr.InvalidReference(fmt.Sprintf("some %s do not exist: %v", ref.table, ref.ids))
		}
	}
	return nil
}

// ===== authors =====

func (s *Service) CreateAuthor(ctx context.Context, in CreateAuthorRequest) (Author, error) {
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return Author{}, apierr.Invalid("first_name and last_name are required")
	}
	now := s.now()
	a := Author{FirstName: first, LastName: last, CreatedAt: now, UpdatedAt: now}
	if err := s.store.InsertAuthor(ctx, &a); err != nil {
		return Author{}, apierr.Storage(err, "insert author")
	}
	return a, nil
}

func (s *Service) GetAuthor(ctx context.Context, id int64) (Author, error) {
	a, err := s.store.GetAuthor(ctx, id)
	if err != nil {
		return Author{}, apierr.Storage(err, "get author")
	}
	if a == nil {
		return Author{}, apierr.NotFound(fmt.Sprintf("author %d not found", id))
	}
	return *a, nil
}

func (s *Service) ListAuthors(ctx context.Context, p page.Page) ([]Author, int64, error) {
	items, total, err := s.store.ListAuthors(ctx, p.Normalize())
	if err != nil {
		return nil, 0, apierr.Storage(err, "list authors")
	}
	return items, total, nil
}

func (s *Service) UpdateAuthor(ctx context.Context, id int64, in UpdateAuthorRequest) (Author, error) {
	if (in.FirstName != nil && strings.TrimSpace(*in.FirstName) == "") ||
		(in.LastName != nil && strings.TrimSpace(*in.LastName) == "") {
		return Author{}, apierr.Invalid("names must not be blank")
	}
	if _, err := s.GetAuthor(ctx, id); err != nil {
		return Author{}, err
	}
	if _, err := s.store.UpdateAuthor(ctx, id, in, s.now()); err != nil {
		return Author{}, apierr.Storage(err, "update author")
	}
	return s.GetAuthor(ctx, id)
}

func (s *Service) DeleteAuthor(ctx context.Context, id int64) error {
	n, err := s.store.DeleteAuthor(ctx, id)
	if err != nil {
		return apierr.Storage(err, "delete author")
	}
	if n == 0 {
		return apierr.NotFound(fmt.Sprintf("author %d not found", id))
	}
	return nil
}

// ===== categories =====

// normalizeName は前後空白を落として NFC に揃える（合成済み/分解済みの表記揺れで重複させない）
func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (s *Service) CreateCategory(ctx context.Context, in CreateCategoryRequest) (Category, error) {
	name := normalizeName(in.Name)
	if name == "" {
		return Category{}, apierr.Invalid("name must not be blank")
	}
	now := s.now()
	c := Category{Name: name, Description: in.Description, CreatedAt: now, UpdatedAt: now}
	if err := s.store.InsertCategory(ctx, &c); err != nil {
		return Category{}, classify(err, "insert category", fmt.Sprintf("category %q already exists", name))
	}
	return c, nil
}

func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return Category{}, apierr.Storage(err, "get category")
	}
	if c == nil {
		return Category{}, apierr.NotFound(fmt.Sprintf("category %d not found", id))
	}
	return *c, nil
}

func (s *Service) GetCategoryByName(ctx context.Context, name string) (Category, error) {
	n := normalizeName(name)
	if n == "" {
		return Category{}, apierr.Invalid("name must not be blank")
	}
	c, err := s.store.GetCategoryByName(ctx, n)
	if err != nil {
		return Category{}, apierr.Storage(err, "get category")
	}
	if c == nil {
		return Category{}, apierr.NotFound(fmt.Sprintf("category %q not found", n))
	}
	return *c, nil
}

func (s *Service) ListCategories(ctx context.Context, p page.Page) ([]Category, int64, error) {
	items, total, err := s.store.ListCategories(ctx, p.Normalize())
	if err != nil {
		return nil, 0, apierr.Storage(err, "list categories")
	}
	return items, total, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id int64, in UpdateCategoryRequest) (Category, error) {
	var name *string
	if in.Name != nil {
		n := normalizeName(*in.Name)
		if n == "" {
			return Category{}, apierr.Invalid("name must not be blank")
		}
		name = &n
	}
	if _, err := s.GetCategory(ctx, id); err != nil {
		return Category{}, err
	}
	if _, err := s.store.UpdateCategory(ctx, id, name, in.Description, s.now()); err != nil {
		return Category{}, classify(err, "update category", "category name already exists")
	}
	return s.GetCategory(ctx, id)
}

// ===== helpers =====

// classify は制約違反を API エラーに寄せる。dupMsg が空なら重複は想定外として扱う
func classify(err error, op, dupMsg string) error {
	switch {
	case dupMsg != "" && db.IsDuplicate(err):
		return apierr.Conflict(dupMsg)
	case db.IsForeignKeyViolation(err):
		return apierr.InvalidReference(op + ": referenced row does not exist")
	default:
		return apierr.Storage(err, op)
	}
}

func uniqIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
