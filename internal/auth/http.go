// ABOUTME: HTTP middleware for JWT authentication on API endpoints and channel upgrades
// ABOUTME: Extracts the credential, resolves it to an active principal and adds it to the context

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/workroom-gateway/internal/store"
)

// Authentication errors
var (
	ErrMissingCredential  = errors.New("missing credential")
	ErrUnknownPrincipal   = errors.New("principal not found")
	ErrPrincipalSuspended = errors.New("principal is suspended")
	ErrMalformedHeader    = errors.New("invalid authorization header format")
)

// PrincipalStore is the lookup the authenticator needs.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*store.Principal, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingCredential
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", ErrMalformedHeader
	}
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// TokenFromRequest returns the credential from the Authorization header, or
// from the "token" query parameter when allowQuery is set. Browsers cannot
// set headers on WebSocket upgrades, so channels use the query form.
func TokenFromRequest(r *http.Request, allowQuery bool) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" || !allowQuery {
		return extractBearerToken(h)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingCredential
}

// Authenticator resolves credentials to active principals.
type Authenticator struct {
	principals PrincipalStore
	verifier   TokenVerifier
	logger     *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(principals PrincipalStore, verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		principals: principals,
		verifier:   verifier,
		logger:     logger.With("component", "auth"),
	}
}

// Authenticate verifies token and loads its principal, which must be active.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	principalID, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	p, err := a.principals.GetPrincipal(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownPrincipal
	}
	if err != nil {
		return nil, err
	}
	if p.Status != store.PrincipalActive {
		return nil, ErrPrincipalSuspended
	}

	return &AuthContext{
		PrincipalID: p.ID,
		Kind:        p.Kind,
		DisplayName: p.DisplayName,
	}, nil
}

// AuthenticateRequest extracts the credential from r and authenticates it.
func (a *Authenticator) AuthenticateRequest(r *http.Request, allowQuery bool) (*AuthContext, error) {
	token, err := TokenFromRequest(r, allowQuery)
	if err != nil {
		return nil, err
	}
	return a.Authenticate(r.Context(), token)
}

// StatusFor maps an authentication failure to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrPrincipalSuspended):
		return http.StatusForbidden
	case errors.Is(err, ErrMissingCredential),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrExpiredToken),
		errors.Is(err, ErrMissingClaim),
		errors.Is(err, ErrUnknownPrincipal),
		errors.Is(err, ErrMalformedHeader):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Middleware rejects requests without a valid credential and adds the
// AuthContext to the request context of those that have one.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := a.AuthenticateRequest(r, false)
		if err != nil {
			status := StatusFor(err)
			if status == http.StatusInternalServerError {
				a.logger.Error("authentication failed", "error", err)
			} else {
				a.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
			}
			writeAuthError(w, status, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}

// RequireService only lets service principals through. Must be used after Middleware.
func RequireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := FromContext(r.Context())
		if authCtx == nil {
			writeAuthError(w, http.StatusUnauthorized, ErrMissingCredential)
			return
		}
		if !authCtx.IsService() {
			writeAuthError(w, http.StatusForbidden, errors.New("service principal required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteError renders an authentication failure with the status StatusFor picks.
func WriteError(w http.ResponseWriter, err error) {
	writeAuthError(w, StatusFor(err), err)
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	kind := "unauthenticated"
	message := err.Error()
	switch status {
	case http.StatusForbidden:
		kind = "forbidden"
	case http.StatusInternalServerError:
		kind = "internal"
		message = "internal error"
	}
	if errors.Is(err, ErrInvalidToken) {
		message = ErrInvalidToken.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}
