package circulation

import (
	"context"
	"time"

	"library-backend/internal/platform/page"
)

// Queries は貸出エンジンが永続化層に求める操作。
// Get/Lock 系は該当行が無ければ (nil, nil) を返す。
type Queries interface {
	GetBook(ctx context.Context, id int64) (*Book, error)
	LockBook(ctx context.Context, id int64) (*Book, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	LockUser(ctx context.Context, id int64) (*User, error)
	CategoryExists(ctx context.Context, id int64, lock bool) (bool, error)

	CountActiveBorrows(ctx context.Context, bookID int64) (int64, error)
	CountActiveBorrowsForUser(ctx context.Context, userID int64) (int64, error)
	CountBooksInCategory(ctx context.Context, categoryID int64) (int64, error)

	InsertBorrowRecord(ctx context.Context, r *BorrowRecord) error
	GetBorrowRecord(ctx context.Context, id int64) (*BorrowRecord, error)
	GetBorrowRecordByULID(ctx context.Context, ulid string) (*BorrowRecord, error)
	MarkReturned(ctx context.Context, id int64, at time.Time) (*BorrowRecord, error)
	ListBorrowRecords(ctx context.Context, f BorrowFilter, p page.Page) ([]BorrowRecord, int64, error)
	DeleteBorrowRecord(ctx context.Context, id int64) (int64, error)

	DeleteBook(ctx context.Context, id int64) (int64, error)
	DeleteUser(ctx context.Context, id int64) (int64, error)
	DeleteCategory(ctx context.Context, id int64) (int64, error)

	TopBooks(ctx context.Context, limit int) ([]RankRow, error)
	TopAuthors(ctx context.Context, limit int) ([]RankRow, error)
	TopCategories(ctx context.Context, limit int) ([]RankRow, error)
}

// Repository は Queries に加えてトランザクション境界を提供する。
// InTx の fn に渡る Queries は同一Tx上で動き、fn がエラーを返せば全て巻き戻る。
type Repository interface {
	Queries
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
