// Package apierr はサービス層の共通エラーモデル。
// 全パッケージが同じ Code 体系を使い、HTTP ステータスへの変換もここで行う。
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidReference   Code = "INVALID_REFERENCE"
	CodeNoCopiesAvailable  Code = "NO_COPIES_AVAILABLE"
	CodeBorrowLimitReached Code = "BORROW_LIMIT_REACHED"
	CodeUserInactive       Code = "USER_INACTIVE"
	CodeConflict           Code = "CONFLICT"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeStorageFailure     Code = "STORAGE_FAILURE"
	CodeInternal           Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	// 削除ガードで弾いた理由と件数
	Reason        string
	BlockingCount int64

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is は Code が一致すれば同じエラーとみなす（errors.Is(err, apierr.ErrNotFound) 用）
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// errors.Is 用の番兵
var (
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrInvalidReference   = &Error{Code: CodeInvalidReference}
	ErrNoCopiesAvailable  = &Error{Code: CodeNoCopiesAvailable}
	ErrBorrowLimitReached = &Error{Code: CodeBorrowLimitReached}
	ErrUserInactive       = &Error{Code: CodeUserInactive}
	ErrConflict           = &Error{Code: CodeConflict}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrStorageFailure     = &Error{Code: CodeStorageFailure}
)

func Invalid(msg string) *Error  { return &Error{Code: CodeInvalidArgument, Message: msg} }
func NotFound(msg string) *Error { return &Error{Code: CodeNotFound, Message: msg} }
func InvalidReference(msg string) *Error {
	return &Error{Code: CodeInvalidReference, Message: msg}
}
func NoCopiesAvailable(msg string) *Error {
	return &Error{Code: CodeNoCopiesAvailable, Message: msg}
}
func BorrowLimitReached(msg string) *Error {
	return &Error{Code: CodeBorrowLimitReached, Message: msg}
}
func UserInactive(msg string) *Error  { return &Error{Code: CodeUserInactive, Message: msg} }
func Conflict(msg string) *Error      { return &Error{Code: CodeConflict, Message: msg} }
func Unauthorized(msg string) *Error  { return &Error{Code: CodeUnauthorized, Message: msg} }
func Internal(msg string) *Error      { return &Error{Code: CodeInternal, Message: msg} }

// Blocked は削除ガードの衝突。reason と件数を呼び出し側に返す
func Blocked(msg, reason string, count int64) *Error {
	return &Error{Code: CodeConflict, Message: msg, Reason: reason, BlockingCount: count}
}

// Storage は永続化層の失敗をラップする。既に *Error ならそのまま返す
func Storage(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: CodeStorageFailure, Message: op, cause: pkgerrors.WithStack(err)}
}

// From は任意のエラーを *Error に寄せる。分類されていないものは INTERNAL 扱い
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "internal error", cause: err}
}

func ToHTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidReference:
		return http.StatusUnprocessableEntity
	case CodeConflict, CodeNoCopiesAvailable, CodeBorrowLimitReached, CodeUserInactive:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
