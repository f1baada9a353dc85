package circulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/dbtest"
	"library-backend/internal/platform/page"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func newTestService(t *testing.T, cfg Config) (*Service, *db.Conn, *fixedClock) {
	t.Helper()
	conn := dbtest.Open(t)
	clk := &fixedClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewService(NewSQLStore(conn), cfg)
	svc.clock = clk
	return svc, conn, clk
}

func borrow(t *testing.T, svc *Service, userID, bookID int64) *BorrowRecord {
	t.Helper()
	rec, err := svc.CreateBorrow(context.Background(), CreateBorrowRequest{UserID: userID, BookID: bookID})
	require.NoError(t, err)
	return rec
}

func TestBorrowLifecycle_QuantityTwo(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{DefaultLoanDays: 14})
	ctx := context.Background()

	book := dbtest.InsertBook(t, conn, "Dune", 2)
	u1 := dbtest.InsertUser(t, conn, "u1@example.com", true)
	u2 := dbtest.InsertUser(t, conn, "u2@example.com", true)
	u3 := dbtest.InsertUser(t, conn, "u3@example.com", true)

	av, err := svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(2), av.AvailableCopies)
	assert.True(t, av.IsAvailable)

	first := borrow(t, svc, u1, book)
	assert.Equal(t, StatusActive, first.Status())
	assert.NotEmpty(t, first.ULID)

	av, err = svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(1), av.AvailableCopies)

	borrow(t, svc, u2, book)
	av, err = svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(0), av.AvailableCopies)
	assert.False(t, av.IsAvailable)

	_, err = svc.CreateBorrow(ctx, CreateBorrowRequest{UserID: u3, BookID: book})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrNoCopiesAvailable))

	returned, err := svc.ReturnBorrow(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, returned.Status())

	av, err = svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(1), av.AvailableCopies)

	borrow(t, svc, u3, book)
}

func TestCreateBorrow_NoOversellUnderConcurrency(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	book := dbtest.InsertBook(t, conn, "Contended", 3)

	const workers = 10
	users := make([]int64, workers)
	for i := range users {
		users[i] = dbtest.InsertUser(t, conn, fmt.Sprintf("c%d@example.com", i), true)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		noCopy  int
		another []error
	)
	for _, uid := range users {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			_, err := svc.CreateBorrow(context.Background(), CreateBorrowRequest{UserID: uid, BookID: book})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apierr.ErrNoCopiesAvailable):
				noCopy++
			default:
				another = append(another, err)
			}
		}(uid)
	}
	wg.Wait()

	require.Empty(t, another)
	assert.Equal(t, 3, ok)
	assert.Equal(t, workers-3, noCopy)

	av, err := svc.Availability(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, int64(3), av.ActiveBorrows)
	assert.Equal(t, int64(0), av.AvailableCopies)
}

func TestCreateBorrow_References(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	ctx := context.Background()
	book := dbtest.InsertBook(t, conn, "Ref", 1)
	user := dbtest.InsertUser(t, conn, "ref@example.com", true)
	inactive := dbtest.InsertUser(t, conn, "off@example.com", false)

	_, err := svc.CreateBorrow(ctx, CreateBorrowRequest{UserID: 999, BookID: book})
	assert.True(t, errors.Is(err, apierr.ErrInvalidReference))

	_, err = svc.CreateBorrow(ctx, CreateBorrowRequest{UserID: user, BookID: 999})
	assert.True(t, errors.Is(err, apierr.ErrInvalidReference))

	_, err = svc.CreateBorrow(ctx, CreateBorrowRequest{UserID: inactive, BookID: book})
	assert.True(t, errors.Is(err, apierr.ErrUserInactive))

	_, err = svc.CreateBorrow(ctx, CreateBorrowRequest{UserID: 0, BookID: book})
	assert.True(t, errors.Is(err, apierr.ErrInvalidArgument))

	av, err := svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(0), av.ActiveBorrows)
}

func TestCreateBorrow_ZeroQuantity(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	book := dbtest.InsertBook(t, conn, "Empty shelf", 0)
	user := dbtest.InsertUser(t, conn, "z@example.com", true)

	_, err := svc.CreateBorrow(context.Background(), CreateBorrowRequest{UserID: user, BookID: book})
	assert.True(t, errors.Is(err, apierr.ErrNoCopiesAvailable))
}

func TestCreateBorrow_LimitPerUser(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{MaxActiveBorrowsPerUser: 2})
	user := dbtest.InsertUser(t, conn, "limit@example.com", true)
	b1 := dbtest.InsertBook(t, conn, "A", 1)
	b2 := dbtest.InsertBook(t, conn, "B", 1)
	b3 := dbtest.InsertBook(t, conn, "C", 1)

	first := borrow(t, svc, user, b1)
	borrow(t, svc, user, b2)

	_, err := svc.CreateBorrow(context.Background(), CreateBorrowRequest{UserID: user, BookID: b3})
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.CodeBorrowLimitReached, ae.Code)

	_, err = svc.ReturnBorrow(context.Background(), first.ID)
	require.NoError(t, err)
	borrow(t, svc, user, b3)
}

func TestCreateBorrow_ReturnDate(t *testing.T) {
	svc, conn, clk := newTestService(t, Config{DefaultLoanDays: 14})
	ctx := context.Background()
	user := dbtest.InsertUser(t, conn, "due@example.com", true)
	book := dbtest.InsertBook(t, conn, "Due", 5)

	rec := borrow(t, svc, user, book)
	require.True(t, rec.ReturnDate.Valid)
	assert.True(t, rec.ReturnDate.Time.Equal(clk.t.AddDate(0, 0, 14)))

	due := clk.t.Add(72 * time.Hour)
	rec, err := svc.CreateBorrow(ctx, CreateBorrowRequest{UserID: user, BookID: book, ReturnDate: &due})
	require.NoError(t, err)
	assert.True(t, rec.ReturnDate.Time.Equal(due))

	past := clk.t.Add(-time.Hour)
	_, err = svc.CreateBorrow(ctx, CreateBorrowRequest{UserID: user, BookID: book, ReturnDate: &past})
	assert.True(t, errors.Is(err, apierr.ErrInvalidArgument))
}

func TestReturnBorrow_Restamps(t *testing.T) {
	svc, conn, clk := newTestService(t, Config{})
	ctx := context.Background()
	user := dbtest.InsertUser(t, conn, "re@example.com", true)
	book := dbtest.InsertBook(t, conn, "Again", 1)
	rec := borrow(t, svc, user, book)

	clk.t = clk.t.Add(24 * time.Hour)
	first, err := svc.ReturnBorrow(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, first.RealReturnDate.Time.Equal(clk.t))

	clk.t = clk.t.Add(24 * time.Hour)
	second, err := svc.ReturnBorrow(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, second.RealReturnDate.Time.Equal(clk.t))

	stored, err := svc.GetBorrow(ctx, fmt.Sprint(rec.ID))
	require.NoError(t, err)
	assert.WithinDuration(t, clk.t, stored.RealReturnDate.Time, time.Second)

	// 再スタンプしても在庫は増えない
	av, err := svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(1), av.AvailableCopies)

	_, err = svc.ReturnBorrow(ctx, 424242)
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestAvailability_ClampsAtZero(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	ctx := context.Background()
	book := dbtest.InsertBook(t, conn, "Shrunk", 2)
	u1 := dbtest.InsertUser(t, conn, "s1@example.com", true)
	u2 := dbtest.InsertUser(t, conn, "s2@example.com", true)
	borrow(t, svc, u1, book)
	borrow(t, svc, u2, book)

	dbtest.SetQuantity(t, conn, book, 1)

	av, err := svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(2), av.ActiveBorrows)
	assert.Equal(t, int64(0), av.AvailableCopies)
	assert.False(t, av.IsAvailable)

	_, err = svc.Availability(ctx, 999)
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestDeleteGuard_Book(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	ctx := context.Background()
	book := dbtest.InsertBook(t, conn, "Guarded", 2)
	author := dbtest.InsertAuthor(t, conn, "Ursula", "Le Guin")
	dbtest.LinkAuthor(t, conn, book, author)
	user := dbtest.InsertUser(t, conn, "g@example.com", true)
	dbtest.InsertBorrow(t, conn, book, user, true)
	rec := borrow(t, svc, user, book)

	g, err := svc.CanDelete(ctx, KindBook, book)
	require.NoError(t, err)
	assert.False(t, g.Deletable)
	assert.Equal(t, ReasonActiveBorrows, g.Reason)
	assert.Equal(t, int64(1), g.BlockingCount)

	err = svc.Delete(ctx, KindBook, book)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.CodeConflict, ae.Code)
	assert.Equal(t, ReasonActiveBorrows, ae.Reason)
	assert.Equal(t, int64(1), ae.BlockingCount)

	// 何も消えていない
	_, err = svc.Availability(ctx, book)
	require.NoError(t, err)

	_, err = svc.ReturnBorrow(ctx, rec.ID)
	require.NoError(t, err)

	g, err = svc.CanDelete(ctx, KindBook, book)
	require.NoError(t, err)
	assert.True(t, g.Deletable)
	assert.Empty(t, g.Reason)

	require.NoError(t, svc.Delete(ctx, KindBook, book))
	_, err = svc.Availability(ctx, book)
	assert.True(t, errors.Is(err, apierr.ErrNotFound))

	var left int64
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM borrow_records WHERE book_id = ?`, book).Scan(&left))
	assert.Zero(t, left)

	err = svc.Delete(ctx, KindBook, book)
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestDeleteGuard_Category(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	ctx := context.Background()
	cat := dbtest.InsertCategory(t, conn, "Science Fiction")
	b1 := dbtest.InsertBook(t, conn, "One", 1)
	b2 := dbtest.InsertBook(t, conn, "Two", 1)
	dbtest.LinkCategory(t, conn, b1, cat)
	dbtest.LinkCategory(t, conn, b2, cat)

	g, err := svc.CanDelete(ctx, KindCategory, cat)
	require.NoError(t, err)
	assert.False(t, g.Deletable)
	assert.Equal(t, ReasonBooksInCategory, g.Reason)
	assert.Equal(t, int64(2), g.BlockingCount)

	err = svc.Delete(ctx, KindCategory, cat)
	assert.True(t, errors.Is(err, apierr.ErrConflict))

	// 本を消せばリンクも消え、カテゴリは削除可能になる
	require.NoError(t, svc.Delete(ctx, KindBook, b1))
	g, err = svc.CanDelete(ctx, KindCategory, cat)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.BlockingCount)

	require.NoError(t, svc.Delete(ctx, KindBook, b2))
	g, err = svc.CanDelete(ctx, KindCategory, cat)
	require.NoError(t, err)
	assert.True(t, g.Deletable)
	require.NoError(t, svc.Delete(ctx, KindCategory, cat))

	var links int64
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM book_categories WHERE category_id = ?`, cat).Scan(&links))
	assert.Zero(t, links)

	empty := dbtest.InsertCategory(t, conn, "Poetry")
	require.NoError(t, svc.Delete(ctx, KindCategory, empty))

	_, err = svc.CanDelete(ctx, KindCategory, empty)
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestDeleteGuard_User(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	ctx := context.Background()
	user := dbtest.InsertUser(t, conn, "leaving@example.com", true)
	book := dbtest.InsertBook(t, conn, "Held", 1)
	rec := borrow(t, svc, user, book)

	err := svc.Delete(ctx, KindUser, user)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ReasonActiveBorrows, ae.Reason)

	_, err = svc.ReturnBorrow(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, KindUser, user))

	_, err = svc.CanDelete(ctx, KindUser, user)
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestPopularity_TieBreakByID(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	ctx := context.Background()
	user := dbtest.InsertUser(t, conn, "reader@example.com", true)
	b1 := dbtest.InsertBook(t, conn, "First", 5)
	b2 := dbtest.InsertBook(t, conn, "Second", 5)
	b3 := dbtest.InsertBook(t, conn, "Third", 5)
	a1 := dbtest.InsertAuthor(t, conn, "Ann", "Able")
	a2 := dbtest.InsertAuthor(t, conn, "Bob", "Baker")
	dbtest.LinkAuthor(t, conn, b1, a1)
	dbtest.LinkAuthor(t, conn, b2, a2)
	dbtest.LinkAuthor(t, conn, b3, a2)
	c1 := dbtest.InsertCategory(t, conn, "Fantasy")
	dbtest.LinkCategory(t, conn, b3, c1)

	// b2, b3 が同数（2件）、b1 は1件。返却済みも数える
	dbtest.InsertBorrow(t, conn, b3, user, true)
	dbtest.InsertBorrow(t, conn, b3, user, false)
	dbtest.InsertBorrow(t, conn, b2, user, true)
	dbtest.InsertBorrow(t, conn, b2, user, true)
	dbtest.InsertBorrow(t, conn, b1, user, false)

	rows, err := svc.TopBooks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{b2, b3, b1}, []int64{rows[0].ID, rows[1].ID, rows[2].ID})
	assert.Equal(t, int64(2), rows[0].BorrowCount)
	assert.Equal(t, "Second", rows[0].Name)

	rows, err = svc.TopBooks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b2, rows[0].ID)

	authors, err := svc.TopAuthors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Equal(t, a2, authors[0].ID)
	assert.Equal(t, "Bob Baker", authors[0].Name)
	assert.Equal(t, int64(4), authors[0].BorrowCount)

	cats, err := svc.TopCategories(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, RankRow{ID: c1, Name: "Fantasy", BorrowCount: 2}, cats[0])
}

func TestPopularity_Empty(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	rows, err := svc.TopBooks(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListBorrows_Filters(t *testing.T) {
	svc, conn, clk := newTestService(t, Config{})
	ctx := context.Background()
	u1 := dbtest.InsertUser(t, conn, "l1@example.com", true)
	u2 := dbtest.InsertUser(t, conn, "l2@example.com", true)
	b1 := dbtest.InsertBook(t, conn, "L1", 3)
	b2 := dbtest.InsertBook(t, conn, "L2", 3)

	r1 := borrow(t, svc, u1, b1)
	clk.t = clk.t.Add(time.Hour)
	borrow(t, svc, u1, b2)
	clk.t = clk.t.Add(time.Hour)
	borrow(t, svc, u2, b1)
	_, err := svc.ReturnBorrow(ctx, r1.ID)
	require.NoError(t, err)

	all, total, err := svc.ListBorrows(ctx, BorrowFilter{}, page.Page{Limit: 10, Order: "desc"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, u2, all[0].UserID)

	active := true
	items, total, err := svc.ListBorrows(ctx, BorrowFilter{UserID: &u1, Active: &active}, page.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, b2, items[0].BookID)

	returned := false
	items, total, err = svc.ListBorrows(ctx, BorrowFilter{BookID: &b1, Active: &returned}, page.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, r1.ID, items[0].ID)

	items, total, err = svc.ListBorrows(ctx, BorrowFilter{}, page.Page{Limit: 2, Offset: 2, Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 1)
	assert.Equal(t, u2, items[0].UserID)

	byUser, total, err := svc.ListBorrowsByUser(ctx, u1, page.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, byUser, 2)

	nobody := dbtest.InsertUser(t, conn, "none@example.com", true)
	_, _, err = svc.ListBorrowsByUser(ctx, nobody, page.Page{Limit: 10})
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestGetAndDeleteBorrow(t *testing.T) {
	svc, conn, _ := newTestService(t, Config{})
	ctx := context.Background()
	user := dbtest.InsertUser(t, conn, "gd@example.com", true)
	book := dbtest.InsertBook(t, conn, "GD", 1)
	rec := borrow(t, svc, user, book)

	byULID, err := svc.GetBorrow(ctx, rec.ULID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byULID.ID)

	byID, err := svc.GetBorrow(ctx, fmt.Sprint(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, rec.ULID, byID.ULID)

	_, err = svc.GetBorrow(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.True(t, errors.Is(err, apierr.ErrNotFound))

	require.NoError(t, svc.DeleteBorrow(ctx, rec.ID))
	assert.True(t, errors.Is(svc.DeleteBorrow(ctx, rec.ID), apierr.ErrNotFound))

	av, err := svc.Availability(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, int64(1), av.AvailableCopies)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultTopLimit, clampLimit(0))
	assert.Equal(t, DefaultTopLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxTopLimit, clampLimit(1000))
}
