package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AllowedPageSizes are the page sizes offered by every list page.
var AllowedPageSizes = []int{10, 25, 50, 100}

const DefaultPageSize = 10

func IsAllowedPageSize(size int) bool {
	for _, allowed := range AllowedPageSizes {
		if size == allowed {
			return true
		}
	}
	return false
}

type PaginationMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	From        int `json:"from"`
	To          int `json:"to"`
	Total       int `json:"total"`
}

type ListQuery struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Search   string `json:"search"`
	ScopeID  string `json:"scope_id"`
	SortBy   string `json:"sort_by,omitempty"`
}

func DefaultListQuery(scopeID string) ListQuery {
	return ListQuery{Page: 1, PageSize: DefaultPageSize, ScopeID: scopeID}
}

type ListResult[T any] struct {
	Items []T            `json:"data"`
	Meta  PaginationMeta `json:"meta"`
}

// Entity is anything a list page can show: it needs a stable numeric id and
// the text the visible-row filter matches against.
type Entity interface {
	EntityID() int64
	SearchText() string
}

// Record is one master-data row exactly as the upstream API returned it.
type Record map[string]any

func (r Record) EntityID() int64 {
	return toInt64(r["id"])
}

func (r Record) Text(field string) string {
	value, ok := r[field]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return name
		}
	}
	return fmt.Sprint(value)
}

// SearchText joins the text of every field as the table shows it, nested
// {name: ...} objects included, so the visible filter behaves like a
// free-text table search.
func (r Record) SearchText() string {
	keys := make([]string, 0, len(r))
	for key := range r {
		if key != "id" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		switch v := r[key].(type) {
		case nil:
		case []any:
			for _, element := range v {
				parts = append(parts, Record{"v": element}.Text("v"))
			}
		default:
			parts = append(parts, r.Text(key))
		}
	}
	return strings.Join(parts, " ")
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

// FieldErrors maps a form field name to the message shown under it.
type FieldErrors map[string]string

type Session struct {
	Token     string    `json:"token,omitempty"`
	UserEmail string    `json:"user_email"`
	CompanyID string    `json:"company_id"`
	OutletID  string    `json:"outlet_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Complete reports whether every field a protected page needs is present.
func (s Session) Complete() bool {
	return strings.TrimSpace(s.Token) != "" &&
		strings.TrimSpace(s.UserEmail) != "" &&
		strings.TrimSpace(s.CompanyID) != ""
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   string  `json:"expires_at"`
	Session     Session `json:"session"`
}

type OutletSwitchRequest struct {
	OutletID string `json:"outlet_id"`
}

const DateLayout = "2006-01-02"

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SalesSummary struct {
	Range           DateRange      `json:"range"`
	CompanyID       string         `json:"company_id"`
	OutletID        string         `json:"outlet_id,omitempty"`
	Transactions    int            `json:"transactions"`
	GrossSales      int64          `json:"gross_sales"`
	NetSales        int64          `json:"net_sales"`
	Profit          int64          `json:"profit"`
	AverageBasket   int64          `json:"average_basket"`
	Daily           []DailySales   `json:"daily"`
	TopProducts     []ProductSales `json:"top_products"`
	ByPaymentMethod []PaymentSales `json:"by_payment_method"`
}

type DailySales struct {
	Date         string `json:"date"`
	Transactions int    `json:"transactions"`
	NetSales     int64  `json:"net_sales"`
}

type ProductSales struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	NetSales  int64  `json:"net_sales"`
}

type PaymentSales struct {
	Method       string `json:"method"`
	Transactions int    `json:"transactions"`
	Total        int64  `json:"total"`
}

// StaffDetail is one staff member plus their activity over Range, as the
// staff detail page shows it.
type StaffDetail struct {
	Staff Record    `json:"staff"`
	Range DateRange `json:"range"`
}

type AuditLog struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	UserEmail string    `json:"user_email"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	EntityIDs string    `json:"entity_ids"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type DeleteRequest struct {
	IDs []int64 `json:"ids"`
}

type DeleteResponse struct {
	Deleted []int64 `json:"deleted"`
}
