package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/cache"
	"kasiran/admin/internal/daterange"
	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/service"
	"kasiran/admin/internal/session"
	"kasiran/admin/internal/store/memory"
)

const (
	testEmail    = "owner@kasiran.id"
	testPassword = "rahasia123"
)

type fakeUpstream struct {
	mu      sync.Mutex
	calls   []string
	queries map[string]url.Values
}

func (u *fakeUpstream) handler(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	u.mu.Lock()
	u.calls = append(u.calls, r.Method+" "+r.URL.Path)
	if u.queries == nil {
		u.queries = make(map[string]url.Values)
	}
	u.queries[r.Method+" "+r.URL.Path] = r.URL.Query()
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/app/dashboard":
		_, _ = io.WriteString(w, `{"data":{"transactions":5,"gross_sales":250000}}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/app/staff/"):
		_, _ = io.WriteString(w, `{"data":{"id":4,"name":"Sari","role":"kasir","transactions":12}}`)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/template"):
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="template_produk.csv"`)
		_, _ = io.WriteString(w, "name,sku\n")
	case r.Method == http.MethodGet:
		_, _ = io.WriteString(w, productPage(r.URL.Query().Get("search")))
	default:
		_, _ = io.WriteString(w, `{"data":{}}`)
	}
}

var upstreamProducts = []map[string]any{
	{"id": 1, "name": "Kopi Susu", "selling_price": 18000, "category": map[string]any{"name": "Kopi"}},
	{"id": 2, "name": "Teh Manis", "selling_price": 8000, "category": map[string]any{"name": "Minuman Dingin"}},
	{"id": 3, "name": "Kopi Hitam", "selling_price": 12000, "category": map[string]any{"name": "Kopi"}},
}

// productPage answers a list call the way the real API does: search matches
// the name or the category name.
func productPage(search string) string {
	term := strings.ToLower(strings.TrimSpace(search))
	rows := make([]map[string]any, 0, len(upstreamProducts))
	for _, row := range upstreamProducts {
		category := row["category"].(map[string]any)["name"].(string)
		if term == "" || strings.Contains(strings.ToLower(row["name"].(string)+" "+category), term) {
			rows = append(rows, row)
		}
	}
	payload, _ := json.Marshal(map[string]any{
		"data": rows,
		"meta": map[string]any{"current_page": 1, "last_page": 1, "per_page": 10, "from": 1, "to": len(rows), "total": len(rows)},
	})
	return string(payload)
}

// query returns the query string of the latest call, e.g. "GET /v1/app/staff/4".
func (u *fakeUpstream) query(call string) url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.queries[call]
}

func (u *fakeUpstream) called(call string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range u.calls {
		if c == call {
			return true
		}
	}
	return false
}

// newTestAPI wires the real service, session store and token issuer against
// a fake upstream, so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *fakeUpstream) {
	t.Helper()

	upstream := &fakeUpstream{}
	server := httptest.NewServer(http.HandlerFunc(upstream.handler))
	t.Cleanup(server.Close)

	client, err := apiclient.New(server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	svc := service.New(client, memory.New(), cache.NoopSummaryCache{}, service.Options{
		SummaryTTL:    time.Minute,
		WorkspaceIdle: time.Hour,
	})

	auth, err := session.ParseDevAccounts(testEmail + ":" + mustHashPassword(t, testPassword) + ":7:3")
	if err != nil {
		t.Fatalf("dev accounts: %v", err)
	}
	sessions := NewSessions(session.NewMemoryStorage(), auth, session.NewTokens("test-secret-key", time.Hour))
	return New(svc, sessions, "*", true), upstream
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// serve runs one request through the full handler chain. Non-GET requests
// carry a fresh CSRF token.
func serve(t *testing.T, api *API, method string, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, res.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	api, _ := newTestAPI(t)
	serve(t, api, http.MethodGet, "/healthz", nil, "")

	res := serve(t, api, http.MethodGet, "/metrics", nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "kasiran_admin_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestListResourcesRequiresSession(t *testing.T) {
	api, _ := newTestAPI(t)

	if res := serve(t, api, http.MethodGet, "/api/v1/resources", nil, ""); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	token := loginAsOwner(t, api)
	res := serve(t, api, http.MethodGet, "/api/v1/resources", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var payload struct {
		Data []service.ResourceDef `json:"data"`
	}
	decodeBody(t, res, &payload)
	if len(payload.Data) != len(service.Resources()) {
		t.Fatalf("expected %d resources, got %d", len(service.Resources()), len(payload.Data))
	}
}

func TestPageSearchSelectAndDelete(t *testing.T) {
	api, upstream := newTestAPI(t)
	token := loginAsOwner(t, api)

	res := serve(t, api, http.MethodGet, "/api/v1/pages/products?search=kopi&size=10", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var view struct {
		Items         []json.RawMessage `json:"items"`
		SelectedCount int               `json:"selected_count"`
	}
	decodeBody(t, res, &view)
	if len(view.Items) != 2 {
		t.Fatalf("expected 2 rows matching kopi, got %d", len(view.Items))
	}

	res = serve(t, api, http.MethodPost, "/api/v1/pages/products/selection/1", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	decodeBody(t, res, &view)
	if view.SelectedCount != 1 {
		t.Fatalf("expected one selected row, got %d", view.SelectedCount)
	}

	res = serve(t, api, http.MethodPost, "/api/v1/pages/products/delete", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var deleted struct {
		Deleted []int64 `json:"deleted"`
	}
	decodeBody(t, res, &deleted)
	if len(deleted.Deleted) != 1 || deleted.Deleted[0] != 1 {
		t.Fatalf("expected row 1 deleted, got %v", deleted.Deleted)
	}
	if !upstream.called("DELETE /v1/app/products/1") {
		t.Fatalf("expected single delete upstream, got %v", upstream.calls)
	}

	// Selection is cleared after a delete.
	res = serve(t, api, http.MethodPost, "/api/v1/pages/products/delete", nil, token)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty selection, got %d", res.Code)
	}

	today := time.Now().UTC().Format(domain.DateLayout)
	res = serve(t, api, http.MethodGet, "/api/v1/audit-logs?resource=products&date="+today, nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", res.Code)
	}
	var audit struct {
		Data []domain.AuditLog `json:"data"`
	}
	decodeBody(t, res, &audit)
	if len(audit.Data) != 1 || audit.Data[0].Action != "delete" || audit.Data[0].CompanyID != "7" {
		t.Fatalf("unexpected audit trail %+v", audit.Data)
	}

	res = serve(t, api, http.MethodGet, "/api/v1/audit-logs/"+audit.Data[0].ID, nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("audit entry: expected 200, got %d", res.Code)
	}
}

func TestPageSearchKeepsRowsMatchedOnNestedFields(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsOwner(t, api)

	// "minuman" only appears in the category name of Teh Manis.
	res := serve(t, api, http.MethodGet, "/api/v1/pages/products?search=minuman", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var view struct {
		Items         []domain.Record `json:"items"`
		SelectedCount int             `json:"selected_count"`
	}
	decodeBody(t, res, &view)
	if len(view.Items) != 1 || view.Items[0]["name"] != "Teh Manis" {
		t.Fatalf("expected the server match to be shown, got %v", view.Items)
	}

	res = serve(t, api, http.MethodPost, "/api/v1/pages/products/selection", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("toggle all: expected 200, got %d", res.Code)
	}
	decodeBody(t, res, &view)
	if view.SelectedCount != 1 {
		t.Fatalf("expected toggle all to select the one visible row, got %d", view.SelectedCount)
	}
}

func TestPageRejectsBadQuery(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsOwner(t, api)

	if res := serve(t, api, http.MethodGet, "/api/v1/pages/products?size=abc", nil, token); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad size, got %d", res.Code)
	}
	if res := serve(t, api, http.MethodGet, "/api/v1/pages/products?page=0", nil, token); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for page 0, got %d", res.Code)
	}
	if res := serve(t, api, http.MethodGet, "/api/v1/pages/invoices", nil, token); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown resource, got %d", res.Code)
	}
	if res := serve(t, api, http.MethodPost, "/api/v1/pages/products/selection/abc", nil, token); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", res.Code)
	}
}

func TestCreateValidationReturnsFieldErrors(t *testing.T) {
	api, upstream := newTestAPI(t)
	token := loginAsOwner(t, api)

	res := serve(t, api, http.MethodPost, "/api/v1/pages/products/items", map[string]any{"name": "Kopi Susu"}, token)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", res.Code, res.Body.String())
	}
	var payload struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, res, &payload)
	for _, field := range []string{"category_id", "unit_id", "selling_price"} {
		if payload.Fields[field] == "" {
			t.Fatalf("expected error for %s, got %v", field, payload.Fields)
		}
	}
	if upstream.called("POST /v1/app/products") {
		t.Fatalf("invalid form must not reach upstream")
	}

	res = serve(t, api, http.MethodPost, "/api/v1/pages/products/items", map[string]any{
		"name":          "Kopi Susu",
		"category_id":   2,
		"unit_id":       1,
		"selling_price": 18000,
	}, token)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	if !upstream.called("POST /v1/app/products") {
		t.Fatalf("expected create upstream")
	}
}

func TestExportAndTemplateDownloads(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsOwner(t, api)

	res := serve(t, api, http.MethodGet, "/api/v1/pages/products/export?format=pdf", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if got := res.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", got)
	}
	if !strings.HasPrefix(res.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("expected attachment disposition, got %q", res.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(res.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected a PDF body")
	}

	if res := serve(t, api, http.MethodGet, "/api/v1/pages/products/export?format=docx", nil, token); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", res.Code)
	}
	if res := serve(t, api, http.MethodGet, "/api/v1/pages/staff/export?format=xlsx", nil, token); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-exportable resource, got %d", res.Code)
	}

	res = serve(t, api, http.MethodGet, "/api/v1/pages/products/template", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("template: expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "template_produk.csv") {
		t.Fatalf("unexpected disposition %q", res.Header().Get("Content-Disposition"))
	}
}

func TestCalendarPickCommitsRange(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsOwner(t, api)

	res := serve(t, api, http.MethodPost, "/api/v1/widgets/dashboard/pick", map[string]string{"date": "2026-01-01"}, token)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 while closed, got %d", res.Code)
	}

	res = serve(t, api, http.MethodPost, "/api/v1/widgets/dashboard/open", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("open: expected 200, got %d", res.Code)
	}
	var state daterange.State
	decodeBody(t, res, &state)
	if state.Phase != daterange.PhaseSelectingStart {
		t.Fatalf("expected selecting-start phase, got %q", state.Phase)
	}

	var days []string
	for _, week := range state.Grid {
		for _, cell := range week {
			if cell.InMonth {
				days = append(days, cell.Date)
			}
		}
	}
	first, last := days[4], days[1]

	res = serve(t, api, http.MethodPost, "/api/v1/widgets/dashboard/pick", map[string]string{"date": first}, token)
	var pick struct {
		Range domain.DateRange `json:"range"`
		Done  bool             `json:"done"`
	}
	decodeBody(t, res, &pick)
	if pick.Done {
		t.Fatalf("first pick must not commit")
	}

	res = serve(t, api, http.MethodPost, "/api/v1/widgets/dashboard/pick", map[string]string{"date": last}, token)
	decodeBody(t, res, &pick)
	if !pick.Done || pick.Range.Start != last || pick.Range.End != first {
		t.Fatalf("expected swapped range %s..%s, got %+v", last, first, pick)
	}

	res = serve(t, api, http.MethodGet, "/api/v1/widgets/dashboard/calendar", nil, token)
	decodeBody(t, res, &state)
	if state.Phase != daterange.PhaseClosed || state.Range != pick.Range {
		t.Fatalf("expected closed picker holding the range, got %+v", state)
	}

	if res := serve(t, api, http.MethodPost, "/api/v1/widgets/dashboard/rewind", nil, token); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", res.Code)
	}
	if res := serve(t, api, http.MethodGet, "/api/v1/widgets/reports/calendar", nil, token); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown widget, got %d", res.Code)
	}
}

func TestSalesSummaryForExplicitRange(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsOwner(t, api)

	res := serve(t, api, http.MethodGet, "/api/v1/dashboard/sales?start=2026-10-05&end=2026-10-01", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var summary domain.SalesSummary
	decodeBody(t, res, &summary)
	if summary.Transactions != 5 {
		t.Fatalf("expected 5 transactions, got %d", summary.Transactions)
	}
	if summary.Range.Start != "2026-10-01" || summary.Range.End != "2026-10-05" {
		t.Fatalf("expected normalized range, got %+v", summary.Range)
	}

	if res := serve(t, api, http.MethodGet, "/api/v1/dashboard/sales?start=01-10-2026", nil, token); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", res.Code)
	}

	res = serve(t, api, http.MethodGet, "/api/v1/dashboard/sales/pdf?start=2026-10-01&end=2026-10-05", nil, token)
	if res.Code != http.StatusOK || res.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf download, got %d %q", res.Code, res.Header().Get("Content-Type"))
	}
}

func TestStaffDetailUsesStaffPickerRange(t *testing.T) {
	api, upstream := newTestAPI(t)
	token := loginAsOwner(t, api)

	res := serve(t, api, http.MethodPost, "/api/v1/widgets/staff/open", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("open: expected 200, got %d", res.Code)
	}
	var state daterange.State
	decodeBody(t, res, &state)
	var days []string
	for _, week := range state.Grid {
		for _, cell := range week {
			if cell.InMonth {
				days = append(days, cell.Date)
			}
		}
	}
	for _, day := range []string{days[2], days[6]} {
		if res := serve(t, api, http.MethodPost, "/api/v1/widgets/staff/pick", map[string]string{"date": day}, token); res.Code != http.StatusOK {
			t.Fatalf("pick %s: expected 200, got %d", day, res.Code)
		}
	}

	res = serve(t, api, http.MethodGet, "/api/v1/pages/staff/items/4", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var detail domain.StaffDetail
	decodeBody(t, res, &detail)
	if detail.Staff["name"] != "Sari" {
		t.Fatalf("unexpected staff %v", detail.Staff)
	}
	if detail.Range.Start != days[2] || detail.Range.End != days[6] {
		t.Fatalf("expected picked range %s..%s, got %+v", days[2], days[6], detail.Range)
	}
	sent := upstream.query("GET /v1/app/staff/4")
	if sent.Get("start_date") != days[2] || sent.Get("end_date") != days[6] || sent.Get("company_id") != "7" {
		t.Fatalf("upstream did not receive the picked range: %v", sent)
	}

	// The dashboard picker is a separate widget and stays untouched.
	res = serve(t, api, http.MethodGet, "/api/v1/widgets/dashboard/calendar", nil, token)
	decodeBody(t, res, &state)
	if state.Range == detail.Range {
		t.Fatalf("staff pick leaked into the dashboard picker: %+v", state.Range)
	}
}

func TestStaffDetailExplicitRangeAndBadID(t *testing.T) {
	api, upstream := newTestAPI(t)
	token := loginAsOwner(t, api)

	res := serve(t, api, http.MethodGet, "/api/v1/pages/staff/items/4?start=2026-10-05&end=2026-10-01", nil, token)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var detail domain.StaffDetail
	decodeBody(t, res, &detail)
	if detail.Range.Start != "2026-10-01" || detail.Range.End != "2026-10-05" {
		t.Fatalf("expected normalized range, got %+v", detail.Range)
	}
	if got := upstream.query("GET /v1/app/staff/4").Get("start_date"); got != "2026-10-01" {
		t.Fatalf("expected start_date 2026-10-01 upstream, got %q", got)
	}

	for _, path := range []string{"/api/v1/pages/staff/items/abc", "/api/v1/pages/staff/items/0", "/api/v1/pages/staff/items/4?start=01-10-2026"} {
		if res := serve(t, api, http.MethodGet, path, nil, token); res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, res.Code)
		}
	}
}

func TestAuditLogUnknownIDReturns404(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsOwner(t, api)

	if res := serve(t, api, http.MethodGet, "/api/v1/audit-logs/missing", nil, token); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func loginAsOwner(t *testing.T, api *API) string {
	t.Helper()

	res := serve(t, api, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Email: testEmail, Password: testPassword}, "")
	if res.Code != http.StatusOK {
		t.Fatalf("owner login failed, status %d (body: %s)", res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	decodeBody(t, res, &payload)
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
