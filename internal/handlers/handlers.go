package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"family-shopping/backend/internal/analytics"
	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/auth"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/families"
	"family-shopping/backend/internal/logger"
	"family-shopping/backend/internal/shopping"
	"family-shopping/backend/internal/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type Server struct {
	Store     database.Store
	Shopping  *shopping.Service
	Families  *families.Service
	Analytics *analytics.Service
	Tokens    *auth.Tokens
	Hub       *websocket.Hub
	Log       *logrus.Entry

	// SecureCookies marks the session cookie Secure; off for plain-http development.
	SecureCookies bool
}

func NewServer(store database.Store, shop *shopping.Service, fam *families.Service, tokens *auth.Tokens, hub *websocket.Hub, log logrus.FieldLogger) *Server {
	return &Server{
		Store:     store,
		Shopping:  shop,
		Families:  fam,
		Analytics: analytics.NewService(shop),
		Tokens:    tokens,
		Hub:       hub,
		Log:       logger.Component(log, "http"),
	}
}

// Routes registers every endpoint on a new mux. extra mounts additional handlers such as
// /metrics, keyed by pattern.
func (s *Server) Routes(allowedOrigin string, extra map[string]http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.Register)
	mux.HandleFunc("POST /auth/login", s.Login)
	mux.HandleFunc("POST /auth/google", s.GoogleLogin)
	mux.HandleFunc("POST /auth/logout", s.Logout)
	mux.HandleFunc("GET /auth/me", s.requireUser(s.GetMe))

	mux.HandleFunc("POST /families", s.requireUser(s.CreateFamily))
	mux.HandleFunc("POST /families/join", s.requireUser(s.JoinFamily))
	mux.HandleFunc("GET /families/current", s.requireFamily(s.GetCurrentFamily))

	mux.HandleFunc("GET /lists/current", s.requireFamily(s.GetCurrentList))
	mux.HandleFunc("PATCH /lists/current", s.requireFamily(s.UpdateListName))
	mux.HandleFunc("POST /lists/current/items", s.requireFamily(s.AddItem))
	mux.HandleFunc("PUT /lists/current/items/{id}", s.requireFamily(s.UpdateItem))
	mux.HandleFunc("DELETE /lists/current/items/{id}", s.requireFamily(s.DeleteItem))
	mux.HandleFunc("POST /lists/current/items/{id}/toggle", s.requireFamily(s.ToggleItem))
	mux.HandleFunc("POST /lists/current/finish", s.requireFamily(s.FinishShopping))

	mux.HandleFunc("GET /history", s.requireFamily(s.GetHistory))
	mux.HandleFunc("POST /history/{id}/clone", s.requireFamily(s.CloneHistoryList))
	mux.HandleFunc("GET /analytics", s.requireFamily(s.GetAnalytics))

	mux.HandleFunc("GET /units", s.ListUnits)
	mux.HandleFunc("GET /ws", s.requireFamily(s.ServeWs))
	mux.HandleFunc("GET /health", s.HealthHandler)
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}

	return enableCORS(allowedOrigin, mux)
}

func enableCORS(allowedOrigin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Without an allowed origin only same-origin clients are served.
		if allowedOrigin != "" && r.Header.Get("Origin") == allowedOrigin {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.Store.Health(r.Context())
	status := http.StatusOK
	if health["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a service error to its status. Messages of unexpected failures stay in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.Log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"kind":   kind,
		}).WithError(err).Error("request failed")
	}
	msg := "internal server error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg = appErr.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// decode reads a JSON body into dst and runs its validation tags. An empty body is allowed and
// leaves dst unchanged.
func decode(r *http.Request, dst any) error {
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return apperr.Validation("invalid request body")
		}
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return apperr.Validation("invalid request body")
		}
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return apperr.Validation("%s is required", fe.Field())
		case "email":
			return apperr.Validation("%s must be a valid email address", fe.Field())
		}
		return apperr.Validation("%s is invalid", fe.Field())
	}
	return nil
}
