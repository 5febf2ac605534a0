// Package sqlite provides a SQLite-backed implementation of the user repository port.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// Adapter implements the repository port for SQLite
type Adapter struct {
	db *sql.DB
}

// NewAdapter creates a connection and runs the schema migration
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// :memory: databases are per connection.
	if storagePath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	adapter := &Adapter{db: db}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully
func (a *Adapter) Close() error {
	return a.db.Close()
}

const selectUser = `SELECT id, photo_ref, playlist_ref, music_profile, face_embedding, created_at FROM users`

func (a *Adapter) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := a.db.QueryRowContext(ctx, selectUser+" WHERE id = ?", id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// ListOthers returns every user except excludeID, ordered by id.
func (a *Adapter) ListOthers(ctx context.Context, excludeID string) ([]domain.User, error) {
	rows, err := a.db.QueryContext(ctx, selectUser+" WHERE id <> ? ORDER BY id ASC", excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (a *Adapter) Save(ctx context.Context, u domain.User) error {
	profile, err := encodeVector(u.MusicProfile)
	if err != nil {
		return fmt.Errorf("failed to encode music profile: %w", err)
	}
	embedding, err := encodeVector(u.FaceEmbedding)
	if err != nil {
		return fmt.Errorf("failed to encode face embedding: %w", err)
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO users (id, photo_ref, playlist_ref, music_profile, face_embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			photo_ref=excluded.photo_ref,
			playlist_ref=excluded.playlist_ref,
			music_profile=excluded.music_profile,
			face_embedding=excluded.face_embedding;
	`
	if _, err := a.db.ExecContext(
		ctx,
		query,
		u.ID,
		u.PhotoRef,
		u.PlaylistRef,
		profile,
		embedding,
		createdAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

func (a *Adapter) UpdateFaceEmbedding(ctx context.Context, id string, embedding []float32) error {
	encoded, err := encodeVector(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode face embedding: %w", err)
	}
	res, err := a.db.ExecContext(ctx, "UPDATE users SET face_embedding = ? WHERE id = ?", encoded, id)
	if err != nil {
		return fmt.Errorf("failed to update face embedding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (domain.User, error) {
	var (
		user      domain.User
		photoRef  sql.NullString
		playlist  sql.NullString
		profile   sql.NullString
		embedding sql.NullString
	)
	if err := s.Scan(&user.ID, &photoRef, &playlist, &profile, &embedding, &user.CreatedAt); err != nil {
		return domain.User{}, err
	}
	user.PhotoRef = photoRef.String
	user.PlaylistRef = playlist.String
	if profile.Valid {
		if err := json.Unmarshal([]byte(profile.String), &user.MusicProfile); err != nil {
			return domain.User{}, fmt.Errorf("decode music profile: %w", err)
		}
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &user.FaceEmbedding); err != nil {
			return domain.User{}, fmt.Errorf("decode face embedding: %w", err)
		}
	}
	return user, nil
}

// encodeVector stores absent vectors as NULL.
func encodeVector[T float32 | float64](v []T) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		photo_ref TEXT,
		playlist_ref TEXT,
		music_profile TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}

	// Databases created before embeddings were cached lack the column.
	if _, err := a.db.Exec("ALTER TABLE users ADD COLUMN face_embedding TEXT"); err != nil {
		if !isDuplicateColumnError(err) {
			return err
		}
	}

	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists"))
}
