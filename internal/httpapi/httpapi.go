package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/daterange"
	"kasiran/admin/internal/listing"
	"kasiran/admin/internal/metrics"
	"kasiran/admin/internal/service"
	"kasiran/admin/internal/session"
	"kasiran/admin/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 16 << 20
)

type API struct {
	service        *service.Service
	sessions       *Sessions
	allowedOrigin  string
	metricsEnabled bool
	loginLimiter   *attemptLimiter
	csrfSecret     []byte
}

func New(svc *service.Service, sessions *Sessions, allowedOrigin string, metricsEnabled bool) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:        svc,
		sessions:       sessions,
		allowedOrigin:  allowedOrigin,
		metricsEnabled: metricsEnabled,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		csrfSecret:     csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("POST /api/v1/auth/logout", a.requireSession(a.handleLogout))
	mux.HandleFunc("GET /api/v1/auth/session", a.requireSession(a.handleSession))
	mux.HandleFunc("POST /api/v1/auth/outlet", a.requireSession(a.handleSwitchOutlet))

	mux.HandleFunc("GET /api/v1/resources", a.requireSession(a.handleResources))
	mux.HandleFunc("GET /api/v1/pages/{resource}", a.requireSession(a.handlePage))
	mux.HandleFunc("POST /api/v1/pages/{resource}/selection/{id}", a.requireSession(a.handleToggleItem))
	mux.HandleFunc("POST /api/v1/pages/{resource}/selection", a.requireSession(a.handleToggleAll))
	mux.HandleFunc("DELETE /api/v1/pages/{resource}/selection", a.requireSession(a.handleClearSelection))
	mux.HandleFunc("POST /api/v1/pages/{resource}/delete", a.requireSession(a.handleDelete))
	mux.HandleFunc("POST /api/v1/pages/{resource}/items", a.requireSession(a.handleCreate))
	mux.HandleFunc("POST /api/v1/pages/{resource}/items/{id}", a.requireSession(a.handleUpdate))
	mux.HandleFunc("POST /api/v1/pages/{resource}/import", a.requireSession(a.handleImport))
	mux.HandleFunc("GET /api/v1/pages/{resource}/template", a.requireSession(a.handleTemplate))
	mux.HandleFunc("GET /api/v1/pages/{resource}/export", a.requireSession(a.handleExport))
	mux.HandleFunc("GET /api/v1/pages/staff/items/{id}", a.requireSession(a.handleStaffDetail))

	mux.HandleFunc("GET /api/v1/widgets/{widget}/calendar", a.requireSession(a.handleCalendar))
	mux.HandleFunc("POST /api/v1/widgets/{widget}/{action}", a.requireSession(a.handleCalendarAction))

	mux.HandleFunc("GET /api/v1/dashboard/sales", a.requireSession(a.handleSalesSummary))
	mux.HandleFunc("GET /api/v1/dashboard/sales/pdf", a.requireSession(a.handleSalesSummaryPDF))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireSession(a.handleAuditLogs))
	mux.HandleFunc("GET /api/v1/audit-logs/{id}", a.requireSession(a.handleAuditLog))

	// Metrics sits outside so it sees the pattern the mux matched.
	return metrics.Middleware(mux, a.withMiddleware(mux))
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the X-CSRF-Token header on every state-changing method.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			limit := int64(maxJSONBody)
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/") {
				limit = maxUploadBody
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeServiceError maps domain and upstream failures onto the status codes
// the dashboard front end understands.
func writeServiceError(w http.ResponseWriter, err error) {
	var validation *listing.ValidationError
	if errors.As(err, &validation) {
		payload := map[string]any{"error": validation.Error(), "fields": validation.Fields}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
		return
	}

	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status >= 500 || status < 400 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]any{"error": apiclient.DisplayMessage(err)})
		return
	}

	switch {
	case errors.Is(err, service.ErrUnauthenticated),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, service.ErrUnknownResource),
		errors.Is(err, service.ErrUnknownWidget),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, daterange.ErrClosed):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, listing.ErrInvalidPage),
		errors.Is(err, listing.ErrInvalidPageSize),
		errors.Is(err, listing.ErrUnknownItem),
		errors.Is(err, listing.ErrEmptySelection),
		errors.Is(err, service.ErrNotImportable),
		errors.Is(err, service.ErrNotExportable),
		errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrEmptyImportPayload),
		errors.Is(err, daterange.ErrInvalidDate),
		errors.Is(err, apiclient.ErrMissingScope),
		errors.Is(err, apiclient.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err)
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			log.Printf("upstream unreachable: %v", err)
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": apiclient.GenericErrorMessage})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeBlob(w http.ResponseWriter, blob apiclient.Blob) {
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": blob.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		return 0, apiclient.ErrInvalidID
	}
	return id, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
