package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// UserRepository implements the user repository port on PostgreSQL.
type UserRepository struct {
	pool *Pool
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(pool *Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const selectUser = `
	SELECT id, photo_ref, playlist_ref, music_profile, face_embedding::text, created_at
	FROM users
`

// GetByID returns domain.ErrNotFound when no user has the id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	user, err := scanUser(r.pool.db.QueryRowContext(ctx, selectUser+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// ListOthers returns every user except excludeID, ordered by id.
func (r *UserRepository) ListOthers(ctx context.Context, excludeID string) ([]domain.User, error) {
	rows, err := r.pool.db.QueryContext(ctx, selectUser+" WHERE id <> $1 ORDER BY id", excludeID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Save inserts or replaces a user.
func (r *UserRepository) Save(ctx context.Context, u domain.User) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO users (id, photo_ref, playlist_ref, music_profile, face_embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			photo_ref = EXCLUDED.photo_ref,
			playlist_ref = EXCLUDED.playlist_ref,
			music_profile = EXCLUDED.music_profile,
			face_embedding = EXCLUDED.face_embedding
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		u.ID,
		u.PhotoRef,
		u.PlaylistRef,
		pq.Float64Array(u.MusicProfile),
		vectorValue(u.FaceEmbedding),
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

// UpdateFaceEmbedding stores a precomputed face embedding.
func (r *UserRepository) UpdateFaceEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := r.pool.db.ExecContext(ctx, "UPDATE users SET face_embedding = $1 WHERE id = $2", vectorValue(embedding), id)
	if err != nil {
		return fmt.Errorf("update face embedding: %w", err)
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
		profile   pq.Float64Array
		embedding sql.NullString
	)
	if err := s.Scan(&user.ID, &user.PhotoRef, &user.PlaylistRef, &profile, &embedding, &user.CreatedAt); err != nil {
		return domain.User{}, err
	}
	if len(profile) > 0 {
		user.MusicProfile = domain.MusicProfile(profile)
	}
	if embedding.Valid {
		var vec pgvector.Vector
		if err := vec.Scan(embedding.String); err != nil {
			return domain.User{}, fmt.Errorf("parse face embedding: %w", err)
		}
		user.FaceEmbedding = vec.Slice()
	}
	return user, nil
}

// vectorValue maps an absent embedding to NULL.
func vectorValue(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
