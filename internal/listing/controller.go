package listing

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/metrics"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusErrored Status = "errored"
)

var (
	ErrSuperseded      = errors.New("fetch superseded by a newer request")
	ErrInvalidPage     = errors.New("page must be a positive integer")
	ErrInvalidPageSize = errors.New("page size must be one of 10, 25, 50, 100")
	ErrUnknownItem     = errors.New("item is not on the current page")
	ErrEmptySelection  = errors.New("no items selected")
)

// Source is the remote collection a controller pages through.
type Source[T domain.Entity] interface {
	List(ctx context.Context, query domain.ListQuery) (domain.ListResult[T], error)
	Delete(ctx context.Context, id int64) error
	BulkDelete(ctx context.Context, ids []int64) error
	Create(ctx context.Context, payload apiclient.Payload) error
	Update(ctx context.Context, id int64, payload apiclient.Payload) error
}

type Selectable[T any] struct {
	Item     T    `json:"item"`
	Selected bool `json:"selected"`
}

type View[T any] struct {
	Resource           string                `json:"resource"`
	Status             Status                `json:"status"`
	Error              string                `json:"error,omitempty"`
	Query              domain.ListQuery      `json:"query"`
	Meta               domain.PaginationMeta `json:"meta"`
	Items              []Selectable[T]       `json:"items"`
	SelectedCount      int                   `json:"selected_count"`
	AllVisibleSelected bool                  `json:"all_visible_selected"`
}

// QueryChange carries the list parameters a page request wants to change.
// Nil fields are left as they are.
type QueryChange struct {
	Page     *int
	PageSize *int
	Search   *string
}

// Controller is the state behind one paginated, searchable, multi-select
// list page. items is the only copy of the rows; the visible subset and the
// selection flags are derived from it on read.
type Controller[T domain.Entity] struct {
	mu         sync.Mutex
	name       string
	source     Source[T]
	rules      FormRules
	query      domain.ListQuery
	items      []T
	selected   map[int64]bool
	meta       domain.PaginationMeta
	status     Status
	errMessage string
	generation uint64
	// fetchedSearch is the term the server already applied to items.
	fetchedSearch string
}

func New[T domain.Entity](name string, source Source[T], query domain.ListQuery, rules FormRules) *Controller[T] {
	if query.Page < 1 {
		query.Page = 1
	}
	if !domain.IsAllowedPageSize(query.PageSize) {
		query.PageSize = domain.DefaultPageSize
	}
	return &Controller[T]{
		name:     name,
		source:   source,
		rules:    rules,
		query:    query,
		items:    []T{},
		selected: make(map[int64]bool),
		status:   StatusIdle,
	}
}

func (c *Controller[T]) Name() string {
	return c.name
}

func (c *Controller[T]) Query() domain.ListQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

func (c *Controller[T]) SetPage(page int) error {
	if page < 1 {
		return ErrInvalidPage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.query.Page != page {
		c.query.Page = page
		c.generation++
	}
	return nil
}

func (c *Controller[T]) SetPageSize(size int) error {
	return c.Apply(QueryChange{PageSize: &size})
}

func (c *Controller[T]) SetSearch(term string) error {
	return c.Apply(QueryChange{Search: &term})
}

// SetScope switches the company the page lists for.
func (c *Controller[T]) SetScope(scopeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.query.ScopeID != scopeID {
		c.query.ScopeID = scopeID
		c.query.Page = 1
		c.generation++
	}
}

// Apply changes the query. A new page size or search term always sends the
// page back to 1, whatever page the caller asked for. Any real change
// invalidates fetches still in flight.
func (c *Controller[T]) Apply(change QueryChange) error {
	if change.PageSize != nil && !domain.IsAllowedPageSize(*change.PageSize) {
		return ErrInvalidPageSize
	}
	if change.Page != nil && *change.Page < 1 {
		return ErrInvalidPage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.query
	if change.PageSize != nil {
		next.PageSize = *change.PageSize
	}
	if change.Search != nil {
		next.Search = strings.TrimSpace(*change.Search)
	}
	if next.PageSize != c.query.PageSize || next.Search != c.query.Search {
		next.Page = 1
	} else if change.Page != nil {
		next.Page = *change.Page
	}

	if next != c.query {
		c.query = next
		c.generation++
	}
	return nil
}

// Fetch loads the current query. Only the response to the most recent
// request is applied; an older one returns ErrSuperseded and changes nothing.
// On failure the previous rows stay on screen next to the error banner.
func (c *Controller[T]) Fetch(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	query := c.query
	c.status = StatusLoading
	c.mu.Unlock()

	result, err := c.source.List(ctx, query)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		metrics.ObserveStaleResponse(c.name)
		return ErrSuperseded
	}
	if err != nil {
		c.status = StatusErrored
		c.errMessage = apiclient.DisplayMessage(err)
		return err
	}

	c.items = result.Items
	if c.items == nil {
		c.items = []T{}
	}
	c.meta = result.Meta
	c.fetchedSearch = query.Search
	c.selected = make(map[int64]bool)
	c.status = StatusLoaded
	c.errMessage = ""
	return nil
}

func (c *Controller[T]) ToggleOne(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range c.items {
		if item.EntityID() == id {
			c.selected[id] = !c.selected[id]
			return nil
		}
	}
	return ErrUnknownItem
}

// ToggleAll acts on the visible rows only: it clears them when all of them are
// selected and selects them otherwise.
func (c *Controller[T]) ToggleAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := c.visibleLocked()
	target := !c.allSelectedLocked(visible)
	for _, item := range visible {
		c.selected[item.EntityID()] = target
	}
}

func (c *Controller[T]) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[int64]bool)
}

// SelectedIDs returns the selected ids in the order the server sent the rows.
func (c *Controller[T]) SelectedIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedIDsLocked()
}

func (c *Controller[T]) DeleteSelected(ctx context.Context) ([]int64, error) {
	ids := c.SelectedIDs()
	return ids, c.Delete(ctx, ids)
}

// Delete removes one row with the single-item call or several rows with one
// bulk call. Nothing is removed locally before the server confirms, so a
// failure only sets the banner.
func (c *Controller[T]) Delete(ctx context.Context, ids []int64) error {
	ids = uniqueIDs(ids)

	var err error
	switch len(ids) {
	case 0:
		return ErrEmptySelection
	case 1:
		err = c.source.Delete(ctx, ids[0])
	default:
		err = c.source.BulkDelete(ctx, ids)
	}
	if err != nil {
		c.setBanner(apiclient.DisplayMessage(err))
		return err
	}

	c.ClearSelection()
	c.refresh(ctx, "delete")
	return nil
}

// Submit validates a create/edit form and sends it. Required fields are all
// checked before returning so every problem shows at once; no request is made
// while any of them is empty.
func (c *Controller[T]) Submit(ctx context.Context, form Form) error {
	if fieldErrors := c.rules.Validate(form); len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}

	payload := form.Payload()
	var err error
	if form.Mode == ModeEdit {
		err = c.source.Update(ctx, form.ID, payload)
	} else {
		err = c.source.Create(ctx, payload)
	}
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
			return &ValidationError{Fields: mergeFieldErrors(nil, apiErr.FieldErrors()), Message: apiErr.Message}
		}
		c.setBanner(apiclient.DisplayMessage(err))
		return err
	}

	c.refresh(ctx, string(form.Mode))
	return nil
}

func (c *Controller[T]) VisibleItems() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	visible := c.visibleLocked()
	out := make([]T, len(visible))
	copy(out, visible)
	return out
}

func (c *Controller[T]) View() View[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := c.visibleLocked()
	rows := make([]Selectable[T], 0, len(visible))
	for _, item := range visible {
		rows = append(rows, Selectable[T]{Item: item, Selected: c.selected[item.EntityID()]})
	}

	return View[T]{
		Resource:           c.name,
		Status:             c.status,
		Error:              c.errMessage,
		Query:              c.query,
		Meta:               c.meta,
		Items:              rows,
		SelectedCount:      len(c.selectedIDsLocked()),
		AllVisibleSelected: c.allSelectedLocked(visible),
	}
}

func (c *Controller[T]) refresh(ctx context.Context, after string) {
	if err := c.Fetch(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		log.Printf("[listing] WARN: refresh after %s failed resource=%s: %v", after, c.name, err)
	}
}

func (c *Controller[T]) setBanner(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMessage = message
}

// visibleLocked filters locally only while the rows on screen were fetched
// for a different term. Rows the server returned for the current term are
// shown as they came.
func (c *Controller[T]) visibleLocked() []T {
	term := strings.ToLower(strings.TrimSpace(c.query.Search))
	if term == "" || c.query.Search == c.fetchedSearch {
		return c.items
	}
	visible := make([]T, 0, len(c.items))
	for _, item := range c.items {
		if strings.Contains(strings.ToLower(item.SearchText()), term) {
			visible = append(visible, item)
		}
	}
	return visible
}

func (c *Controller[T]) allSelectedLocked(visible []T) bool {
	if len(visible) == 0 {
		return false
	}
	for _, item := range visible {
		if !c.selected[item.EntityID()] {
			return false
		}
	}
	return true
}

func (c *Controller[T]) selectedIDsLocked() []int64 {
	ids := make([]int64, 0, len(c.selected))
	for _, item := range c.items {
		if c.selected[item.EntityID()] {
			ids = append(ids, item.EntityID())
		}
	}
	return ids
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id < 1 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
