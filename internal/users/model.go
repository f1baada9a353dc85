package users

import "time"

// User は users テーブルの1行。hashed_password は外に出さない
type User struct {
	ID               int64     `json:"id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Email            string    `json:"email"`
	IsActive         bool      `json:"is_active"`
	RegistrationDate time.Time `json:"registration_date"`
}

type CreateUserRequest struct {
	FirstName string `json:"first_name" binding:"notblank"`
	LastName  string `json:"last_name" binding:"notblank"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
}

type UpdateUserRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty" binding:"omitempty,email"`
	Password  *string `json:"password,omitempty" binding:"omitempty,min=8"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

type ListUsersResponse struct {
	Items      []User `json:"items"`
	Total      int64  `json:"total"`
	NextOffset int    `json:"next_offset"`
}
