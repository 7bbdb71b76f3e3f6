package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserLookupFunc resolves an API key to the owning user's id.
type UserLookupFunc func(ctx context.Context, apiKey string) (uuid.UUID, error)

// withUserID stores the authenticated user id in the context.
func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext retrieves the authenticated user id from the context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// BearerAuth returns an HTTP middleware that authenticates requests via
// `Authorization: Bearer <api key>` and stores the resolved user id in the
// request context.
func BearerAuth(lookup UserLookupFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"authorization header required"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, `{"error":"invalid authorization format, expected Bearer <token>"}`, http.StatusUnauthorized)
				return
			}

			apiKey := parts[1]
			if apiKey == "" {
				http.Error(w, `{"error":"empty API key"}`, http.StatusUnauthorized)
				return
			}

			userID, err := lookup(r.Context(), apiKey)
			if err != nil {
				http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
				return
			}

			ctx := withUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LookupByAPIKey returns a UserLookupFunc backed by the users table.
func LookupByAPIKey(pool *pgxpool.Pool) UserLookupFunc {
	return func(ctx context.Context, apiKey string) (uuid.UUID, error) {
		var id uuid.UUID
		err := pool.QueryRow(ctx,
			`SELECT user_id FROM users WHERE api_key = $1`, apiKey).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, errors.New("unknown API key")
			}
			return uuid.Nil, fmt.Errorf("look up API key: %w", err)
		}
		return id, nil
	}
}
