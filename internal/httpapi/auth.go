package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/service"
	"kasiran/admin/internal/session"
	"kasiran/admin/internal/xid"
)

// Sessions ties the signed browser token to the stored session record.
type Sessions struct {
	storage session.Storage
	auth    session.Authenticator
	tokens  *session.Tokens
}

func NewSessions(storage session.Storage, auth session.Authenticator, tokens *session.Tokens) *Sessions {
	return &Sessions{storage: storage, auth: auth, tokens: tokens}
}

func (s *Sessions) store(sessionID string) *session.Store {
	return session.NewStore(sessionID, s.storage, s.auth, s.tokens.TTL())
}

// requireSession is the one gate in front of every protected route: no
// handler runs without a complete, unexpired session.
func (a *API) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		claims, err := a.sessions.tokens.Parse(authorization[len("Bearer "):])
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		current, ok, err := a.sessions.store(claims.SessionID).Rehydrate(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok || !strings.EqualFold(current.UserEmail, claims.Email) {
			writeError(w, http.StatusUnauthorized, errors.New("session expired, please sign in again"))
			return
		}

		caller := service.Caller{SessionID: claims.SessionID, Session: current}
		next(w, r.WithContext(service.WithCaller(r.Context(), caller)))
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sessionID, err := xid.Secret(24)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	current, err := a.sessions.store(sessionID).Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	token, expiresAt, err := a.sessions.tokens.Issue(current.UserEmail, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Session:     publicSession(current),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller, _ := service.CallerFromContext(r.Context())
	if err := a.sessions.store(caller.SessionID).Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.service.DropWorkspace(caller.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	caller, _ := service.CallerFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"session": publicSession(caller.Session)})
}

func (a *API) handleSwitchOutlet(w http.ResponseWriter, r *http.Request) {
	var req domain.OutletSwitchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	caller, _ := service.CallerFromContext(r.Context())
	store := a.sessions.store(caller.SessionID)
	if _, _, err := store.Rehydrate(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	updated, err := store.SwitchOutlet(r.Context(), req.OutletID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": publicSession(updated)})
}

// publicSession strips the upstream token; the browser only holds the
// dashboard's own signed token.
func publicSession(s domain.Session) domain.Session {
	s.Token = ""
	return s
}
