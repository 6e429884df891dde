// Package identity carries the acting user through the service layer.
//
// Authentication happens upstream; the gateway forwards the authenticated user id in X-User-ID.
package identity

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"libshelf/internal/apperror"
	"libshelf/internal/httpx"
)

const HeaderUserID = "X-User-ID"

// Actor is the user on whose behalf an operation runs.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

// CanActFor reports whether the actor may operate on a resource owned by owner.
func (a Actor) CanActFor(owner uuid.UUID) bool {
	return a.Admin || (a.UserID != uuid.Nil && a.UserID == owner)
}

// Authorize is CanActFor as an error: Forbidden when the actor may not touch what owner holds.
func (a Actor) Authorize(owner uuid.UUID, what string) error {
	if a.CanActFor(owner) {
		return nil
	}
	return apperror.Forbidden("only the owner or an admin may access this %s", what)
}

func (a Actor) Authenticated() bool {
	return a.UserID != uuid.Nil
}

// RoleResolver answers whether a user holds the admin role.
type RoleResolver interface {
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

type contextKey int

const actorKey contextKey = iota

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// FromContext returns the actor stored by Middleware, or the anonymous actor.
func FromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey).(Actor); ok {
		return actor
	}
	return Actor{}
}

// Middleware resolves X-User-ID into an Actor. Requests without the header continue anonymously.
func Middleware(roles RoleResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderUserID)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := uuid.Parse(raw)
			if err != nil {
				httpx.Unauthorized(w, r)
				return
			}

			admin, err := roles.IsAdmin(r.Context(), userID)
			if err != nil {
				httpx.ServerError(w, r, err)
				return
			}

			ctx := WithActor(r.Context(), Actor{UserID: userID, Admin: admin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).Authenticated() {
			httpx.Unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects everyone but admins.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := FromContext(r.Context())
		if !actor.Authenticated() {
			httpx.Unauthorized(w, r)
			return
		}
		if !actor.Admin {
			httpx.Error(w, r, apperror.Forbidden("admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
