package db

import (
	"context"
	"database/sql"
	"fmt"
)

// MySQL 側は config/schema.mysql.sql を流す
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		isbn TEXT NOT NULL UNIQUE,
		publication_year INTEGER,
		quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS book_authors (
		book_id INTEGER NOT NULL REFERENCES books(id),
		author_id INTEGER NOT NULL REFERENCES authors(id),
		PRIMARY KEY (book_id, author_id)
	)`,
	`CREATE TABLE IF NOT EXISTS book_categories (
		book_id INTEGER NOT NULL REFERENCES books(id),
		category_id INTEGER NOT NULL REFERENCES categories(id),
		PRIMARY KEY (book_id, category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		registration_date DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS borrow_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		borrow_ulid TEXT NOT NULL UNIQUE,
		book_id INTEGER NOT NULL REFERENCES books(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		borrowed_date DATETIME NOT NULL,
		return_date DATETIME,
		real_return_date DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_records_book_active ON borrow_records (book_id, real_return_date)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_records_user_active ON borrow_records (user_id, real_return_date)`,
	`CREATE INDEX IF NOT EXISTS idx_book_categories_category ON book_categories (category_id)`,
	`CREATE INDEX IF NOT EXISTS idx_book_authors_author ON book_authors (author_id)`,
}

func ApplySQLiteSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
