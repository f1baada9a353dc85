package circulation

import (
	"database/sql"
	"time"
)

// Status は貸出レコードの状態。real_return_date の有無から導出するだけで保存はしない
type Status string

const (
	StatusActive   Status = "active"
	StatusReturned Status = "returned"
)

type EntityKind string

const (
	KindBook     EntityKind = "book"
	KindUser     EntityKind = "user"
	KindCategory EntityKind = "category"
)

// 削除ガードの理由
const (
	ReasonActiveBorrows   = "active_borrows"
	ReasonBooksInCategory = "books_in_category"
)

// Book は在庫計算に必要な列だけ
type Book struct {
	ID       int64
	Title    string
	Quantity int64
}

type User struct {
	ID       int64
	Email    string
	IsActive bool
}

// BorrowRecord は borrow_records テーブルの1行
type BorrowRecord struct {
	ID             int64
	ULID           string
	BookID         int64
	UserID         int64
	BorrowedDate   time.Time
	ReturnDate     sql.NullTime // 返却予定日
	RealReturnDate sql.NullTime // NULL の間は貸出中
}

func (r *BorrowRecord) Status() Status {
	if r.RealReturnDate.Valid {
		return StatusReturned
	}
	return StatusActive
}

type Availability struct {
	BookID          int64 `json:"book_id"`
	TotalCopies     int64 `json:"total_copies"`
	ActiveBorrows   int64 `json:"active_borrows"`
	AvailableCopies int64 `json:"available_copies"`
	IsAvailable     bool  `json:"is_available"`
}

type Guard struct {
	Kind          EntityKind `json:"kind"`
	ID            int64      `json:"id"`
	Deletable     bool       `json:"deletable"`
	Reason        string     `json:"reason,omitempty"`
	BlockingCount int64      `json:"blocking_count"`
}

// 貸出リスト取得用の検索条件
type BorrowFilter struct {
	UserID *int64
	BookID *int64
	Active *bool // true: 貸出中のみ / false: 返却済みのみ
}

// RankRow は人気ランキングの1行
type RankRow struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	BorrowCount int64  `json:"borrow_count"`
}
