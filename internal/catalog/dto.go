package catalog

// ===== Requests =====

type CreateBookRequest struct {
	Title           string  `json:"title" binding:"notblank"`
	ISBN            string  `json:"isbn" binding:"notblank"`
	PublicationYear *int    `json:"publication_year,omitempty"`
	Quantity        *int64  `json:"quantity,omitempty"` // 省略時 1
	AuthorIDs       []int64 `json:"author_ids,omitempty"`
	CategoryIDs     []int64 `json:"category_ids,omitempty"`
}

// 更新はポインタ指定のものだけ反映。ID配列を渡した場合はリンクを置き換える
type UpdateBookRequest struct {
	Title           *string  `json:"title,omitempty"`
	ISBN            *string  `json:"isbn,omitempty"`
	PublicationYear *int     `json:"publication_year,omitempty"`
	Quantity        *int64   `json:"quantity,omitempty"`
	AuthorIDs       *[]int64 `json:"author_ids,omitempty"`
	CategoryIDs     *[]int64 `json:"category_ids,omitempty"`
}

type CreateAuthorRequest struct {
	FirstName string `json:"first_name" binding:"notblank"`
	LastName  string `json:"last_name" binding:"notblank"`
}

type UpdateAuthorRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

type CreateCategoryRequest struct {
	Name        string  `json:"name" binding:"notblank"`
	Description *string `json:"description,omitempty"`
}

type UpdateCategoryRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ===== Responses =====

type BookResponse struct {
	Book
	AuthorIDs   []int64 `json:"author_ids"`
	CategoryIDs []int64 `json:"category_ids"`
}

type ListResponse[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	NextOffset int   `json:"next_offset"`
}
