package circulation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/page"
)

const (
	DefaultTopLimit = 5
	MaxTopLimit     = 100
)

// ===== インターフェース群 =====

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Config は貸出ルール。MaxActiveBorrowsPerUser <= 0 は無制限
type Config struct {
	DefaultLoanDays         int
	MaxActiveBorrowsPerUser int
}

// ===== Service本体 =====

type Service struct {
	repo  Repository
	cfg   Config
	clock Clock
	id    IDGen
}

func NewService(repo Repository, cfg Config) *Service {
	return &Service{
		repo:  repo,
		cfg:   cfg,
		clock: realClock{},
		id:    ulidGen{},
	}
}

// ===== 在庫 =====

func (s *Service) Availability(ctx context.Context, bookID int64) (Availability, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return Availability{}, apierr.Storage(err, "get book")
	}
	if book == nil {
		return Availability{}, apierr.NotFound(fmt.Sprintf("book %d not found", bookID))
	}
	active, err := s.repo.CountActiveBorrows(ctx, bookID)
	if err != nil {
		return Availability{}, apierr.Storage(err, "count active borrows")
	}
	return computeAvailability(book, active), nil
}

// computeAvailability は quantity - 貸出中件数。外部で quantity を減らされた場合は0に丸めて警告を出す
func computeAvailability(b *Book, active int64) Availability {
	available := b.Quantity - active
	if available < 0 {
		log.Printf("[WARN] book %d: %d active borrows exceed quantity %d; reporting 0 available", b.ID, active, b.Quantity)
		available = 0
	}
	return Availability{
		BookID:          b.ID,
		TotalCopies:     b.Quantity,
		ActiveBorrows:   active,
		AvailableCopies: available,
		IsAvailable:     available > 0,
	}
}

// ===== 貸出・返却 =====

// CreateBorrow は在庫確認と登録を1つのTxで行う。
// 利用者行 → 書籍行の順でロックするので、最後の1冊を取り合っても成功は1件だけ。
func (s *Service) CreateBorrow(ctx context.Context, req CreateBorrowRequest) (*BorrowRecord, error) {
	if req.UserID <= 0 || req.BookID <= 0 {
		return nil, apierr.Invalid("user_id and book_id must be > 0")
	}

	now := s.clock.Now()
	rec := &BorrowRecord{
		ULID:         s.id.NewULID(now),
		BookID:       req.BookID,
		UserID:       req.UserID,
		BorrowedDate: now,
	}
	switch {
	case req.ReturnDate != nil:
		if req.ReturnDate.Before(now) {
			return nil, apierr.Invalid("return_date must not be in the past")
		}
		rec.ReturnDate = sql.NullTime{Time: req.ReturnDate.UTC(), Valid: true}
	case s.cfg.DefaultLoanDays > 0:
		rec.ReturnDate = sql.NullTime{Time: now.AddDate(0, 0, s.cfg.DefaultLoanDays), Valid: true}
	}

	err := s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
		user, err := q.LockUser(ctx, req.UserID)
		if err != nil {
			return apierr.Storage(err, "lock user")
		}
		if user == nil {
			return apierr.InvalidReference(fmt.Sprintf("user %d does not exist", req.UserID))
		}
		if !user.IsActive {
			return apierr.UserInactive(fmt.Sprintf("user %d is not active", req.UserID))
		}

		book, err := q.LockBook(ctx, req.BookID)
		if err != nil {
			return apierr.Storage(err, "lock book")
		}
		if book == nil {
			return apierr.InvalidReference(fmt.Sprintf("book %d does not exist", req.BookID))
		}

		if s.cfg.MaxActiveBorrowsPerUser > 0 {
			held, err := q.CountActiveBorrowsForUser(ctx, user.ID)
			if err != nil {
				return apierr.Storage(err, "count user borrows")
			}
			if held >= int64(s.cfg.MaxActiveBorrowsPerUser) {
				return apierr.BorrowLimitReached(fmt.Sprintf("user %d already has %d active borrows (max %d)",
					user.ID, held, s.cfg.MaxActiveBorrowsPerUser))
			}
		}

		active, err := q.CountActiveBorrows(ctx, book.ID)
		if err != nil {
			return apierr.Storage(err, "count active borrows")
		}
		if av := computeAvailability(book, active); av.AvailableCopies <= 0 {
			return apierr.NoCopiesAvailable(fmt.Sprintf("no copies of book %d available (%d of %d on loan)",
				book.ID, active, book.Quantity))
		}

		if err := q.InsertBorrowRecord(ctx, rec); err != nil {
			if db.IsForeignKeyViolation(err) {
				return apierr.InvalidReference("user or book no longer exists")
			}
			return apierr.Storage(err, "insert borrow record")
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Storage(err, "create borrow")
	}
	return rec, nil
}

// ReturnBorrow は real_return_date を現在時刻にする。返却済みでも再スタンプして成功を返す
func (s *Service) ReturnBorrow(ctx context.Context, borrowID int64) (*BorrowRecord, error) {
	now := s.clock.Now()
	var out *BorrowRecord
	err := s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
		rec, err := q.MarkReturned(ctx, borrowID, now)
		if err != nil {
			return apierr.Storage(err, "mark returned")
		}
		if rec == nil {
			return apierr.NotFound(fmt.Sprintf("borrow record %d not found", borrowID))
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, apierr.Storage(err, "return borrow")
	}
	return out, nil
}

// ===== 削除ガード =====

func (s *Service) CanDelete(ctx context.Context, kind EntityKind, id int64) (Guard, error) {
	return s.guard(ctx, s.repo, kind, id, false)
}

// Delete はガード確認と削除を同一Tx内で行う。衝突時は何も消さない
func (s *Service) Delete(ctx context.Context, kind EntityKind, id int64) error {
	err := s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
		g, err := s.guard(ctx, q, kind, id, true)
		if err != nil {
			return err
		}
		if !g.Deletable {
			return apierr.Blocked(blockedMessage(g), g.Reason, g.BlockingCount)
		}

		var n int64
		switch kind {
		case KindBook:
			n, err = q.DeleteBook(ctx, id)
		case KindUser:
			n, err = q.DeleteUser(ctx, id)
		case KindCategory:
			n, err = q.DeleteCategory(ctx, id)
		}
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return apierr.Conflict(fmt.Sprintf("%s %d is still referenced", kind, id))
			}
			return apierr.Storage(err, "delete "+string(kind))
		}
		if n == 0 {
			return apierr.NotFound(fmt.Sprintf("%s %d not found", kind, id))
		}
		return nil
	})
	return apierr.Storage(err, "delete "+string(kind))
}

func (s *Service) guard(ctx context.Context, q Queries, kind EntityKind, id int64, lock bool) (Guard, error) {
	g := Guard{Kind: kind, ID: id}
	var (
		exists bool
		n      int64
		err    error
	)

	switch kind {
	case KindBook:
		var b *Book
		if lock {
			b, err = q.LockBook(ctx, id)
		} else {
			b, err = q.GetBook(ctx, id)
		}
		if err != nil {
			return g, apierr.Storage(err, "get book")
		}
		if exists = b != nil; exists {
			n, err = q.CountActiveBorrows(ctx, id)
			g.Reason = ReasonActiveBorrows
		}
	case KindUser:
		var u *User
		if lock {
			u, err = q.LockUser(ctx, id)
		} else {
			u, err = q.GetUser(ctx, id)
		}
		if err != nil {
			return g, apierr.Storage(err, "get user")
		}
		if exists = u != nil; exists {
			n, err = q.CountActiveBorrowsForUser(ctx, id)
			g.Reason = ReasonActiveBorrows
		}
	case KindCategory:
		exists, err = q.CategoryExists(ctx, id, lock)
		if err != nil {
			return g, apierr.Storage(err, "get category")
		}
		if exists {
			n, err = q.CountBooksInCategory(ctx, id)
			g.Reason = ReasonBooksInCategory
		}
	default:
		return g, apierr.Invalid(fmt.Sprintf("unknown entity kind %q", kind))
	}

	if !exists {
		return g, apierr.NotFound(fmt.Sprintf("%s %d not found", kind, id))
	}
	if err != nil {
		return g, apierr.Storage(err, "count "+g.Reason)
	}

	g.BlockingCount = n
	g.Deletable = n == 0
	if g.Deletable {
		g.Reason = ""
	}
	return g, nil
}

func blockedMessage(g Guard) string {
	switch g.Kind {
	case KindCategory:
		return fmt.Sprintf("category %d cannot be deleted: %d book(s) still reference it", g.ID, g.BlockingCount)
	default:
		return fmt.Sprintf("%s %d cannot be deleted: %d active borrow(s), return them first", g.Kind, g.ID, g.BlockingCount)
	}
}

// ===== 貸出レコード参照 =====

func (s *Service) ListBorrows(ctx context.Context, f BorrowFilter, p page.Page) ([]BorrowRecord, int64, error) {
	items, total, err := s.repo.ListBorrowRecords(ctx, f, p)
	if err != nil {
		return nil, 0, apierr.Storage(err, "list borrow records")
	}
	return items, total, nil
}

// ListBorrowsByUser は1件も無ければ NotFound
func (s *Service) ListBorrowsByUser(ctx context.Context, userID int64, p page.Page) ([]BorrowRecord, int64, error) {
	items, total, err := s.ListBorrows(ctx, BorrowFilter{UserID: &userID}, p)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, apierr.NotFound(fmt.Sprintf("no borrowed books found for user %d", userID))
	}
	return items, total, nil
}

// GetBorrow は数値なら id、それ以外は borrow_ulid として引く
func (s *Service) GetBorrow(ctx context.Context, key string) (*BorrowRecord, error) {
	if key == "" {
		return nil, apierr.Invalid("id or ulid is required")
	}

	var (
		rec *BorrowRecord
		err error
	)
	if id, perr := strconv.ParseInt(key, 10, 64); perr == nil && id > 0 {
		rec, err = s.repo.GetBorrowRecord(ctx, id)
	} else {
		rec, err = s.repo.GetBorrowRecordByULID(ctx, key)
	}
	if err != nil {
		return nil, apierr.Storage(err, "get borrow record")
	}
	if rec == nil {
		return nil, apierr.NotFound(fmt.Sprintf("borrow record %s not found", key))
	}
	return rec, nil
}

func (s *Service) DeleteBorrow(ctx context.Context, borrowID int64) error {
	n, err := s.repo.DeleteBorrowRecord(ctx, borrowID)
	if err != nil {
		return apierr.Storage(err, "delete borrow record")
	}
	if n == 0 {
		return apierr.NotFound(fmt.Sprintf("borrow record %d not found", borrowID))
	}
	return nil
}

// ===== 人気ランキング =====

func (s *Service) TopBooks(ctx context.Context, limit int) ([]RankRow, error) {
	rows, err := s.repo.TopBooks(ctx, clampLimit(limit))
	return rows, apierr.Storage(err, "top books")
}

func (s *Service) TopAuthors(ctx context.Context, limit int) ([]RankRow, error) {
	rows, err := s.repo.TopAuthors(ctx, clampLimit(limit))
	return rows, apierr.Storage(err, "top authors")
}

func (s *Service) TopCategories(ctx context.Context, limit int) ([]RankRow, error) {
	rows, err := s.repo.TopCategories(ctx, clampLimit(limit))
	return rows, apierr.Storage(err, "top categories")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopLimit
	}
	if limit > MaxTopLimit {
		return MaxTopLimit
	}
	return limit
}
