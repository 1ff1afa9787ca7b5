package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kasiran/admin/internal/daterange"
	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/store"
)

type pickRequest struct {
	Date string `json:"date"`
}

func (a *API) handleCalendar(w http.ResponseWriter, r *http.Request) {
	selector, err := a.service.Selector(r.Context(), r.PathValue("widget"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selector.State())
}

func (a *API) handleCalendarAction(w http.ResponseWriter, r *http.Request) {
	selector, err := a.service.Selector(r.Context(), r.PathValue("widget"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch r.PathValue("action") {
	case "open":
		selector.Open()
	case "close":
		selector.Close()
	case "previous":
		selector.Previous()
	case "next":
		selector.Next()
	case "pick":
		var req pickRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		committed, done, err := selector.PickDate(req.Date)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state": selector.State(),
			"range": committed,
			"done":  done,
		})
		return
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown calendar action"))
		return
	}
	writeJSON(w, http.StatusOK, selector.State())
}

// rangeFromQuery returns nil when neither start nor end is given, so the
// service falls back to the widget's committed range.
func rangeFromQuery(r *http.Request) (*domain.DateRange, error) {
	values := r.URL.Query()
	start := strings.TrimSpace(values.Get("start"))
	end := strings.TrimSpace(values.Get("end"))
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" {
		start = end
	}
	if end == "" {
		end = start
	}
	normalized, err := daterange.Normalize(domain.DateRange{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	dateRange, err := rangeFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	summary, err := a.service.SalesSummary(r.Context(), dateRange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleSalesSummaryPDF(w http.ResponseWriter, r *http.Request) {
	dateRange, err := rangeFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	blob, err := a.service.SalesSummaryPDF(r.Context(), dateRange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeBlob(w, blob)
}

// handleStaffDetail shows one staff member over the staff picker's range,
// or over start/end when given.
func (a *API) handleStaffDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dateRange, err := rangeFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	detail, err := a.service.StaffDetail(r.Context(), id, dateRange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleAuditLogs accepts either a single date or a start/end pair. The end
// day is inclusive.
func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	filter := store.AuditFilter{
		Resource: strings.TrimSpace(values.Get("resource")),
		Limit:    parsePositiveLimit(values.Get("limit"), store.DefaultAuditLimit, 500),
	}

	if day := strings.TrimSpace(values.Get("date")); day != "" {
		parsed, err := daterange.ParseDate(day)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		filter.From = parsed
		filter.To = parsed.AddDate(0, 0, 1)
	} else {
		dateRange, err := rangeFromQuery(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if dateRange != nil {
			filter.From, filter.To = auditBounds(*dateRange)
		}
	}

	entries, err := a.service.AuditLogs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

func auditBounds(dateRange domain.DateRange) (time.Time, time.Time) {
	from, _ := daterange.ParseDate(dateRange.Start)
	to, _ := daterange.ParseDate(dateRange.End)
	return from, to.AddDate(0, 0, 1)
}

func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.AuditLog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
