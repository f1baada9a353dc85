package db

import (
	"errors"

	mysql "github.com/go-sql-driver/mysql"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// MySQL エラー番号
const (
	mysqlDuplicateEntry   = 1062
	mysqlRowIsReferenced  = 1451 // 親行削除時の FK 違反
	mysqlNoReferencedRow  = 1452 // 子行挿入時の FK 違反
	mysqlRowIsReferenced2 = 1217
	mysqlNoReferencedRow2 = 1216
)

// IsDuplicate は UNIQUE / PK 違反かどうか
func IsDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsForeignKeyViolation は参照整合性違反かどうか（挿入側・削除側どちらも）
func IsForeignKeyViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlRowIsReferenced, mysqlNoReferencedRow, mysqlRowIsReferenced2, mysqlNoReferencedRow2:
			return true
		}
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
