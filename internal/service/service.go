package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/cache"
	"kasiran/admin/internal/daterange"
	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/listing"
	"kasiran/admin/internal/report"
	"kasiran/admin/internal/store"
)

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrUnknownResource    = errors.New("unknown resource")
	ErrUnknownWidget      = errors.New("unknown widget")
	ErrNotImportable      = errors.New("resource does not support import")
	ErrNotExportable      = errors.New("resource does not support export")
	ErrUnsupportedFormat  = errors.New("export format must be pdf or xlsx")
	ErrEmptyImportPayload = errors.New("import file is empty")
)

// Caller is the logged-in browser a request acts for.
type Caller struct {
	SessionID string
	Session   domain.Session
}

type callerContextKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok
}

type Options struct {
	SummaryTTL    time.Duration
	WorkspaceIdle time.Duration
}

type Service struct {
	client     *apiclient.Client
	audit      store.AuditRepository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	idle       time.Duration
	now        func() time.Time

	mu         sync.Mutex
	workspaces map[string]*workspace
}

// workspace holds the list pages and date pickers one browser session has
// opened. It lives in memory only and is rebuilt on demand.
type workspace struct {
	mu        sync.Mutex
	pages     map[string]*listing.Controller[domain.Record]
	selectors map[string]*daterange.Selector
	lastSeen  time.Time
}

func New(client *apiclient.Client, audit store.AuditRepository, summaries cache.SummaryCache, opts Options) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = time.Minute
	}
	if opts.WorkspaceIdle <= 0 {
		opts.WorkspaceIdle = 30 * time.Minute
	}
	return &Service{
		client:     client,
		audit:      audit,
		summaries:  summaries,
		summaryTTL: opts.SummaryTTL,
		idle:       opts.WorkspaceIdle,
		now:        time.Now,
		workspaces: make(map[string]*workspace),
	}
}

func (s *Service) ListPage(ctx context.Context, resource string, change listing.QueryChange) (listing.View[domain.Record], error) {
	ctrl, _, upstream, err := s.begin(ctx, resource)
	if err != nil {
		return listing.View[domain.Record]{}, err
	}
	if err := ctrl.Apply(change); err != nil {
		return listing.View[domain.Record]{}, err
	}
	if err := ctrl.Fetch(upstream); err != nil && !errors.Is(err, listing.ErrSuperseded) {
		log.Printf("[service] WARN: list %s failed: %v", resource, err)
	}
	return ctrl.View(), nil
}

func (s *Service) PageView(ctx context.Context, resource string) (listing.View[domain.Record], error) {
	ctrl, _, _, err := s.begin(ctx, resource)
	if err != nil {
		return listing.View[domain.Record]{}, err
	}
	return ctrl.View(), nil
}

func (s *Service) ToggleItem(ctx context.Context, resource string, id int64) (listing.View[domain.Record], error) {
	ctrl, _, _, err := s.begin(ctx, resource)
	if err != nil {
		return listing.View[domain.Record]{}, err
	}
	if err := ctrl.ToggleOne(id); err != nil {
		return listing.View[domain.Record]{}, err
	}
	return ctrl.View(), nil
}

func (s *Service) ToggleAll(ctx context.Context, resource string) (listing.View[domain.Record], error) {
	ctrl, _, _, err := s.begin(ctx, resource)
	if err != nil {
		return listing.View[domain.Record]{}, err
	}
	ctrl.ToggleAll()
	return ctrl.View(), nil
}

func (s *Service) ClearSelection(ctx context.Context, resource string) (listing.View[domain.Record], error) {
	ctrl, _, _, err := s.begin(ctx, resource)
	if err != nil {
		return listing.View[domain.Record]{}, err
	}
	ctrl.ClearSelection()
	return ctrl.View(), nil
}

// DeleteItems removes the given ids, or the current selection when ids is
// empty.
func (s *Service) DeleteItems(ctx context.Context, resource string, ids []int64) (domain.DeleteResponse, listing.View[domain.Record], error) {
	ctrl, _, upstream, err := s.begin(ctx, resource)
	if err != nil {
		return domain.DeleteResponse{}, listing.View[domain.Record]{}, err
	}
	if len(ids) == 0 {
		ids = ctrl.SelectedIDs()
	}
	if err := ctrl.Delete(upstream, ids); err != nil {
		return domain.DeleteResponse{}, ctrl.View(), err
	}

	s.logAudit(ctx, "delete", resource, ids, fmt.Sprintf("count=%d", len(ids)))
	return domain.DeleteResponse{Deleted: ids}, ctrl.View(), nil
}

func (s *Service) SubmitForm(ctx context.Context, resource string, form listing.Form) (listing.View[domain.Record], error) {
	ctrl, _, upstream, err := s.begin(ctx, resource)
	if err != nil {
		return listing.View[domain.Record]{}, err
	}
	if err := ctrl.Submit(upstream, form); err != nil {
		return listing.View[domain.Record]{}, err
	}

	var ids []int64
	if form.Mode == listing.ModeEdit {
		ids = []int64{form.ID}
	}
	s.logAudit(ctx, string(form.Mode), resource, ids, "fields="+strings.Join(fieldNames(form), ","))
	return ctrl.View(), nil
}

func (s *Service) ImportFile(ctx context.Context, resource string, filename string, file io.Reader) (listing.View[domain.Record], error) {
	ctrl, def, upstream, err := s.begin(ctx, resource)
	if err != nil {
		return listing.View[domain.Record]{}, err
	}
	if !def.Importable {
		return listing.View[domain.Record]{}, ErrNotImportable
	}
	if file == nil {
		return listing.View[domain.Record]{}, ErrEmptyImportPayload
	}
	if err := s.client.Import(upstream, def.Path, filename, file); err != nil {
		return listing.View[domain.Record]{}, err
	}

	s.logAudit(ctx, "import", resource, nil, "file="+filename)
	if err := ctrl.Fetch(upstream); err != nil && !errors.Is(err, listing.ErrSuperseded) {
		log.Printf("[service] WARN: refresh after import %s failed: %v", resource, err)
	}
	return ctrl.View(), nil
}

func (s *Service) ImportTemplate(ctx context.Context, resource string) (apiclient.Blob, error) {
	_, def, upstream, err := s.begin(ctx, resource)
	if err != nil {
		return apiclient.Blob{}, err
	}
	if !def.Importable {
		return apiclient.Blob{}, ErrNotImportable
	}
	return s.client.Download(upstream, def.Path, "template", nil, nil)
}

// Export renders the rows on screen as PDF locally, or asks the upstream for
// the full spreadsheet export.
func (s *Service) Export(ctx context.Context, resource string, format string) (apiclient.Blob, error) {
	ctrl, def, upstream, err := s.begin(ctx, resource)
	if err != nil {
		return apiclient.Blob{}, err
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pdf":
		caller, _ := CallerFromContext(ctx)
		view := ctrl.View()
		data, filename, err := report.ListPDF(report.ListDocument{
			Title:       def.Title,
			Resource:    def.Name,
			Columns:     def.Columns,
			Rows:        ctrl.VisibleItems(),
			Meta:        view.Meta,
			Search:      view.Query.Search,
			GeneratedBy: caller.Session.UserEmail,
			GeneratedAt: s.now(),
		})
		if err != nil {
			return apiclient.Blob{}, err
		}
		return apiclient.Blob{Filename: filename, ContentType: "application/pdf", Data: data}, nil
	case "xlsx":
		if !def.Exportable {
			return apiclient.Blob{}, ErrNotExportable
		}
		query := ctrl.Query()
		params := url.Values{}
		params.Set("company_id", query.ScopeID)
		if query.Search != "" {
			params.Set("search", query.Search)
		}
		return s.client.Download(upstream, def.Path, "export", params, nil)
	default:
		return apiclient.Blob{}, ErrUnsupportedFormat
	}
}

func (s *Service) Selector(ctx context.Context, widget string) (*daterange.Selector, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if !knownWidget(widget) {
		return nil, ErrUnknownWidget
	}

	ws := s.workspace(caller.SessionID)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	selector, ok := ws.selectors[widget]
	if !ok {
		selector = daterange.NewMonthToDate(s.now(), nil)
		ws.selectors[widget] = selector
	}
	return selector, nil
}

// SalesSummary loads the dashboard cards. A nil range uses the dashboard
// picker's committed range.
func (s *Service) SalesSummary(ctx context.Context, dateRange *domain.DateRange) (domain.SalesSummary, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return domain.SalesSummary{}, ErrUnauthenticated
	}

	target, err := s.resolveRange(ctx, WidgetDashboard, dateRange)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	key := cache.SummaryKey(caller.Session.CompanyID, caller.Session.OutletID, target)
	if cached, ok, err := s.summaries.Get(ctx, key); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: summary cache read failed key=%s: %v", key, err)
	}

	upstream := apiclient.WithToken(ctx, caller.Session.Token)
	summary, err := s.client.SalesSummary(upstream, caller.Session.CompanyID, caller.Session.OutletID, target)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	if err := s.summaries.Set(ctx, key, &summary, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache write failed key=%s: %v", key, err)
	}
	return summary, nil
}

func (s *Service) SalesSummaryPDF(ctx context.Context, dateRange *domain.DateRange) (apiclient.Blob, error) {
	summary, err := s.SalesSummary(ctx, dateRange)
	if err != nil {
		return apiclient.Blob{}, err
	}
	data, filename, err := report.SummaryPDF(summary, s.now())
	if err != nil {
		return apiclient.Blob{}, err
	}
	return apiclient.Blob{Filename: filename, ContentType: "application/pdf", Data: data}, nil
}

// StaffDetail loads one staff member with their activity over the staff
// picker's committed range, unless dateRange overrides it.
func (s *Service) StaffDetail(ctx context.Context, id int64, dateRange *domain.DateRange) (domain.StaffDetail, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return domain.StaffDetail{}, ErrUnauthenticated
	}
	if id < 1 {
		return domain.StaffDetail{}, apiclient.ErrInvalidID
	}
	target, err := s.resolveRange(ctx, WidgetStaff, dateRange)
	if err != nil {
		return domain.StaffDetail{}, err
	}

	def, _ := LookupResource("staff")
	params := url.Values{}
	params.Set("company_id", caller.Session.CompanyID)
	params.Set("start_date", target.Start)
	params.Set("end_date", target.End)
	staff, err := s.client.Resource(def.Path).Get(apiclient.WithToken(ctx, caller.Session.Token), id, params)
	if err != nil {
		return domain.StaffDetail{}, err
	}
	return domain.StaffDetail{Staff: staff, Range: target}, nil
}

// resolveRange normalizes an explicit range or falls back to the widget's
// committed one.
func (s *Service) resolveRange(ctx context.Context, widget string, dateRange *domain.DateRange) (domain.DateRange, error) {
	if dateRange != nil {
		return daterange.Normalize(*dateRange)
	}
	selector, err := s.Selector(ctx, widget)
	if err != nil {
		return domain.DateRange{}, err
	}
	return selector.Range(), nil
}

// AuditLogs lists the caller's company trail. Without explicit bounds the
// audit picker's committed range is used, end day inclusive.
func (s *Service) AuditLogs(ctx context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	filter.CompanyID = caller.Session.CompanyID

	if filter.From.IsZero() && filter.To.IsZero() {
		selector, err := s.Selector(ctx, WidgetAudit)
		if err != nil {
			return nil, err
		}
		current := selector.Range()
		from, _ := daterange.ParseDate(current.Start)
		to, _ := daterange.ParseDate(current.End)
		filter.From = from
		filter.To = to.AddDate(0, 0, 1)
	}
	return s.audit.ListAuditLogs(ctx, filter)
}

func (s *Service) AuditLog(ctx context.Context, id string) (domain.AuditLog, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return domain.AuditLog{}, ErrUnauthenticated
	}
	entry, err := s.audit.GetAuditLog(ctx, id)
	if err != nil {
		return domain.AuditLog{}, err
	}
	if entry.CompanyID != caller.Session.CompanyID {
		return domain.AuditLog{}, store.ErrNotFound
	}
	return *entry, nil
}

// DropWorkspace forgets a session's pages, typically on logout.
func (s *Service) DropWorkspace(sessionID string) {
	s.mu.Lock()
	delete(s.workspaces, sessionID)
	s.mu.Unlock()
}

// Sweep evicts workspaces idle for longer than the configured window and
// reports how many were dropped.
func (s *Service) Sweep() int {
	cutoff := s.now().Add(-s.idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, ws := range s.workspaces {
		ws.mu.Lock()
		idle := ws.lastSeen.Before(cutoff)
		ws.mu.Unlock()
		if idle {
			delete(s.workspaces, id)
			dropped++
		}
	}
	return dropped
}

func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := s.Sweep(); dropped > 0 {
				log.Printf("[service] evicted %d idle workspaces", dropped)
			}
		}
	}
}

func (s *Service) begin(ctx context.Context, resource string) (*listing.Controller[domain.Record], ResourceDef, context.Context, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, ResourceDef{}, nil, ErrUnauthenticated
	}
	def, ok := LookupResource(resource)
	if !ok {
		return nil, ResourceDef{}, nil, ErrUnknownResource
	}

	ws := s.workspace(caller.SessionID)
	ws.mu.Lock()
	ctrl, ok := ws.pages[def.Name]
	if !ok {
		ctrl = listing.New[domain.Record](def.Name, s.client.Resource(def.Path), domain.DefaultListQuery(caller.Session.CompanyID), def.Rules)
		ws.pages[def.Name] = ctrl
	}
	ws.mu.Unlock()

	ctrl.SetScope(caller.Session.CompanyID)
	return ctrl, def, apiclient.WithToken(ctx, caller.Session.Token), nil
}

func (s *Service) workspace(sessionID string) *workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[sessionID]
	if !ok {
		ws = &workspace{
			pages:     make(map[string]*listing.Controller[domain.Record]),
			selectors: make(map[string]*daterange.Selector),
		}
		s.workspaces[sessionID] = ws
	}
	ws.mu.Lock()
	ws.lastSeen = s.now()
	ws.mu.Unlock()
	return ws
}

func (s *Service) logAudit(ctx context.Context, action string, resource string, ids []int64, detail string) {
	caller, ok := CallerFromContext(ctx)
	if !ok || s.audit == nil {
		return
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	if err := s.audit.CreateAuditLog(ctx, domain.AuditLog{
		CompanyID: caller.Session.CompanyID,
		UserEmail: caller.Session.UserEmail,
		Action:    action,
		Resource:  resource,
		EntityIDs: strings.Join(parts, ","),
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s resource=%s: %v", action, resource, err)
	}
}

func fieldNames(form listing.Form) []string {
	names := make([]string, 0, len(form.Fields)+len(form.Files))
	for field := range form.Fields {
		names = append(names, field)
	}
	for _, file := range form.Files {
		names = append(names, file.Field)
	}
	sort.Strings(names)
	return names
}
