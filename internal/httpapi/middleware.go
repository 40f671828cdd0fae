package httpapi

import (
	"context"
	"errors"
	"net/http"

	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/store"
)

type contextKey string

const userContextKey contextKey = "httpapi.user"

// withUser resolves the caller from the X-USER-ID header. Sign-in itself is a
// front-door concern; this service trusts the id the gateway forwards.
func withUser(users store.Users) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userId := r.Header.Get("X-USER-ID")
			if userId == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{
					Code: 4010, Error: "Unauthorized", Message: "missing user id",
				})
				return
			}
			user, err := users.Get(r.Context(), userId)
			if errors.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusUnauthorized, errorBody{
					Code: 4010, Error: "Unauthorized", Message: "unknown user",
				})
				return
			} else if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}
