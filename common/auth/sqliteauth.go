package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	// pure Go SQLite driver, registers as "sqlite"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	email TEXT UNIQUE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	user_id INTEGER,
	created_at DATETIME NOT NULL
);
`

// bcrypt only looks at the first 72 bytes
const maxPasswordLength = 72

// SQLiteAuth keeps accounts and uploaded file records in a local database.
type SQLiteAuth struct {
	db *sql.DB
}

func OpenSQLiteAuth(ctx context.Context, path string) (*SQLiteAuth, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteAuth{db: db}, nil
}

func (s *SQLiteAuth) Close() error {
	return s.db.Close()
}

// RegisterUser rejects names that collide with any existing login, so a
// username may not equal another account's email and the reverse.
func (s *SQLiteAuth) RegisterUser(ctx context.Context, username string, email string, password string) (*User, error) {
	if len(password) > maxPasswordLength {
		return nil, ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var emailArg interface{}
	if len(email) > 0 {
		emailArg = email
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, created_at)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM users WHERE email = ? OR (? IS NOT NULL AND username = ?)
		)`,
		username, emailArg, string(hash), time.Now().UTC(),
		username, emailArg, emailArg)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	} else if n == 0 {
		return nil, ErrUserExists
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &User{
		Uid:      int(id),
		Name:     username,
		Username: username,
		Email:    email,
	}, nil
}

// AuthenticateUser looks the account up by username first, then by email.
func (s *SQLiteAuth) AuthenticateUser(ctx context.Context, username string, password string) (*User, error) {
	var (
		user  User
		email sql.NullString
		hash  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash FROM users WHERE username = ? OR email = ? ORDER BY username = ? DESC LIMIT 1`,
		username, username, username,
	).Scan(&user.Uid, &user.Username, &email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, AuthError
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ServerError, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, AuthError
	}

	user.Name = user.Username
	user.Email = email.String
	return &user, nil
}

// RecordFile notes an upload made by the given user.
func (s *SQLiteAuth) RecordFile(ctx context.Context, filename string, userID int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (filename, user_id, created_at) VALUES (?, ?, ?)`,
		filename, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Files lists the names uploaded by a user, oldest first.
func (s *SQLiteAuth) Files(ctx context.Context, userID int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM files WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
