package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRepo resolves API bearer tokens to user IDs. Tokens are stored
// hashed; the raw token never touches the database.
type TokenRepo struct {
	pool *pgxpool.Pool
}

// NewTokenRepo creates a TokenRepo.
func NewTokenRepo(pool *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{pool: pool}
}

// ErrTokenNotFound is returned for unknown or expired tokens.
var ErrTokenNotFound = errors.New("token not found")

// LookupUser returns the user ID for a token hash, rejecting expired tokens.
func (r *TokenRepo) LookupUser(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	const query = `
		SELECT user_id
		FROM api_tokens
		WHERE token_hash = $1 AND expires_at > now()`

	var userID uuid.UUID
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrTokenNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup token: %w", err)
	}
	return userID, nil
}
