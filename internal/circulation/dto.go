package circulation

import "time"

// 貸出登録リクエスト
type CreateBorrowRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	BookID int64 `json:"book_id" binding:"required"`
	// 返却予定日。省略時は DefaultLoanDays 後
	ReturnDate *time.Time `json:"return_date,omitempty"`
}

type BorrowResponse struct {
	ID             int64      `json:"id"`
	ULID           string     `json:"borrow_ulid"`
	UserID         int64      `json:"user_id"`
	BookID         int64      `json:"book_id"`
	BorrowedDate   time.Time  `json:"borrowed_date"`
	ReturnDate     *time.Time `json:"return_date"`
	RealReturnDate *time.Time `json:"real_return_date"`
	Status         Status     `json:"status"`
}

type ListBorrowsResponse struct {
	Items      []BorrowResponse `json:"items"`
	Total      int64            `json:"total"`
	NextOffset int              `json:"next_offset"`
}

func buildBorrowResponse(r *BorrowRecord) BorrowResponse {
	resp := BorrowResponse{
		ID:           r.ID,
		ULID:         r.ULID,
		UserID:       r.UserID,
		BookID:       r.BookID,
		BorrowedDate: r.BorrowedDate,
		Status:       r.Status(),
	}
	if r.ReturnDate.Valid {
		v := r.ReturnDate.Time
		resp.ReturnDate = &v
	}
	if r.RealReturnDate.Valid {
		v := r.RealReturnDate.Time
		resp.RealReturnDate = &v
	}
	return resp
}
