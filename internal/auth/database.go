package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	email           TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

// User is one account row.
type User struct {
	ID        int64
	Email     string
	Hashed    string
	IsActive  bool
	CreatedAt time.Time
}

// OpenDB opens (and migrates) the sqlite user database.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return db, nil
}

func getUserByEmail(ctx context.Context, db *sql.DB, email string) (*User, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, email, hashed_password, is_active, created_at FROM users WHERE email = ?`, email)
	var u User
	var active int
	if err := row.Scan(&u.ID, &u.Email, &u.Hashed, &active, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.IsActive = active != 0
	return &u, nil
}

func insertUser(ctx context.Context, db *sql.DB, email, hashed string) (*User, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`INSERT INTO users (email, hashed_password, is_active, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
		email, hashed, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Email: email, Hashed: hashed, IsActive: true, CreatedAt: now}, nil
}
