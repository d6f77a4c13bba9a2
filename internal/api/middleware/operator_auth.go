// Package middleware provides HTTP middleware components for the linetrace API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// UsernameHeader carries the OS-reported username the local client
// authenticated as. There is no network credential to check — the
// workstation's own OS login is the first factor — so the server only
// needs the name to look permissions up by.
const UsernameHeader = "X-Operator-Username"

// PINHeader optionally carries an operator's PIN, checked against the
// catalog's stored bcrypt hash as a second factor for admin-gated commands
// (force_release, cleanup_old).
const PINHeader = "X-Operator-Pin"

// contentTypeProblemJSON is the media type for RFC 7807 error responses.
const contentTypeProblemJSON = "application/problem+json"

// OperatorUser is the subset of storage.CatalogStore.User OperatorAuth
// needs, kept narrow so this package doesn't import internal/storage.
type OperatorUser struct {
	Name        string
	Permissions []string
	PINHash     string
}

// UserLookup resolves an OS username to its catalog user row.
type UserLookup interface {
	UserByUsername(ctx context.Context, username string) (OperatorUser, error)
}

type (
	// AuthError represents an authentication error with a specific type.
	AuthError struct {
		Type    error
		Message string
	}
)

// Authentication error types for granular error handling.
var (
	// ErrMissingUsername is returned when no username header is present.
	ErrMissingUsername = errors.New("missing operator username")

	// ErrUnknownOperator is returned when the username doesn't match any
	// catalog user row.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrInvalidPIN is returned when a PIN header is present but doesn't
	// match the operator's stored hash.
	ErrInvalidPIN = errors.New("invalid operator PIN")
)

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type, enabling standard errors.Is() and errors.As() behavior.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// performDummyBcryptComparison runs a throwaway bcrypt comparison so that
// requests for unknown usernames and requests with a wrong PIN take
// roughly the same time as a successful lookup.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword(dummyPINHash(), []byte("dummy"))
}

// dummyPINHash is a well-formed bcrypt hash, generated once, so the
// comparison above runs the full key derivation instead of failing fast
// on a malformed hash.
var dummyPINHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.DefaultCost)
	return hash
})

// OperatorAuth resolves the OS-reported username header against lookup,
// optionally verifies a PIN header against the operator's stored bcrypt
// hash, and enriches the request context with OperatorContext. It does not
// itself enforce any permission — callers gate admin-only commands with
// RequirePermission downstream.
func OperatorAuth(lookup UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authStart := time.Now()

			username := strings.TrimSpace(r.Header.Get(UsernameHeader))
			if username == "" {
				writeAuthError(w, r, logger, &AuthError{Type: ErrMissingUsername})
				return
			}

			user, err := lookup.UserByUsername(r.Context(), username)
			if err != nil {
				performDummyBcryptComparison()
				writeAuthError(w, r, logger, &AuthError{Type: ErrUnknownOperator, Message: username})

				return
			}

			if pin := r.Header.Get(PINHeader); pin != "" || user.PINHash != "" {
				if err := bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)); err != nil {
					writeAuthError(w, r, logger, &AuthError{Type: ErrInvalidPIN, Message: username})
					return
				}
			}

			operatorCtx := OperatorContext{
				Username:    username,
				Name:        user.Name,
				Permissions: user.Permissions,
				AuthTime:    time.Now(),
			}
			ctx := SetOperatorContext(r.Context(), operatorCtx)

			logger.Info("operator authenticated",
				slog.String("username", username),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission wraps a handler so it only runs for an operator context
// carrying permission. Must run after OperatorAuth in the chain.
func RequirePermission(permission string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operatorCtx, ok := GetOperatorContext(r.Context())
			if !ok || !operatorCtx.HasPermission(permission) {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrUnknownOperator,
					Message: "missing required permission: " + permission,
				})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for
// authentication failures and logs the failure.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	statusCode := http.StatusUnauthorized

	var authErr *AuthError
	if errors.As(err, &authErr) && errors.Is(authErr.Type, ErrInvalidPIN) {
		statusCode = http.StatusForbidden
	}

	logger.Warn("authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if err := writeRFC7807Error(w, r, statusCode, err.Error(), correlationID); err != nil {
		logger.Error("failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", err),
		)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without
// importing the api package.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, statusCode int, detail, correlationID string) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = "Authentication Failed"
	}

	problem := map[string]interface{}{
		"type":          fmt.Sprintf("https://linetrace.dev/problems/%d", statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
