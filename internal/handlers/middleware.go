package handlers

import (
	"context"
	"net/http"
	"strings"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/auth"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	familyIDKey
)

var errNoSession = apperr.Unauthenticated("not signed in")

// sessionToken reads the token from the session cookie or an Authorization: Bearer header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(auth.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// requireUser rejects requests without a valid session and puts the user id in the context.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			s.writeError(w, r, errNoSession)
			return
		}
		userID, err := s.Tokens.Parse(token)
		if err != nil {
			s.writeError(w, r, apperr.Unauthenticated("session expired, sign in again"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// requireFamily is requireUser plus the caller's family, which scopes every list operation.
func (s *Server) requireFamily(next http.HandlerFunc) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request) {
		familyID, err := s.Families.FamilyOf(r.Context(), userID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), familyIDKey, familyID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func familyID(r *http.Request) string {
	id, _ := r.Context().Value(familyIDKey).(string)
	return id
}
