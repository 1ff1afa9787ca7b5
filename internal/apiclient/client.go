package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/metrics"
)

const GenericErrorMessage = "Something went wrong. Please try again."

var (
	ErrMissingScope = errors.New("company id is required")
	ErrInvalidID    = errors.New("invalid id")
)

// maxBlobSize bounds template/export downloads kept in memory.
const maxBlobSize = 32 << 20

type tokenContextKey struct{}

// WithToken attaches the upstream bearer token used by every call made with ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// FilePart is one uploaded file inside a multipart body.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Payload is a create/update body. It is sent as JSON unless it carries
// files, in which case it becomes multipart/form-data.
type Payload struct {
	Fields map[string]string
	Files  []FilePart
}

type Blob struct {
	Filename    string
	ContentType string
	Data        []byte
}

type listEnvelope[T any] struct {
	Data []T                    `json:"data"`
	Meta *domain.PaginationMeta `json:"meta,omitempty"`
}

type itemEnvelope[T any] struct {
	Data T `json:"data"`
}

// List fetches one page of a resource. The scope check happens before any
// request is built.
func List[T any](ctx context.Context, c *Client, resource string, query domain.ListQuery) (domain.ListResult[T], error) {
	if strings.TrimSpace(query.ScopeID) == "" {
		return domain.ListResult[T]{}, ErrMissingScope
	}
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize < 1 {
		query.PageSize = domain.DefaultPageSize
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(query.Page))
	params.Set("size", strconv.Itoa(query.PageSize))
	params.Set("company_id", query.ScopeID)
	if search := strings.TrimSpace(query.Search); search != "" {
		params.Set("search", search)
	}
	if query.SortBy != "" {
		params.Set("sortBy", query.SortBy)
	}

	var envelope listEnvelope[T]
	if err := c.doJSON(ctx, "list", http.MethodGet, c.resourcePath(resource), params, nil, &envelope); err != nil {
		return domain.ListResult[T]{}, err
	}

	result := domain.ListResult[T]{Items: envelope.Data}
	if result.Items == nil {
		result.Items = []T{}
	}
	if envelope.Meta != nil {
		result.Meta = *envelope.Meta
	} else {
		result.Meta = synthesizeMeta(query, len(result.Items))
	}
	return result, nil
}

// Get fetches a single row of a resource. params may be nil.
func Get[T any](ctx context.Context, c *Client, resource string, id int64, params url.Values) (T, error) {
	var envelope itemEnvelope[T]
	if id < 1 {
		return envelope.Data, ErrInvalidID
	}
	err := c.doJSON(ctx, "get", http.MethodGet, c.resourcePath(resource, strconv.FormatInt(id, 10)), params, nil, &envelope)
	return envelope.Data, err
}

func synthesizeMeta(query domain.ListQuery, count int) domain.PaginationMeta {
	meta := domain.PaginationMeta{
		CurrentPage: query.Page,
		LastPage:    1,
		PerPage:     query.PageSize,
		Total:       count,
	}
	if count > 0 {
		meta.From = 1
		meta.To = count
	}
	return meta
}

func (c *Client) Delete(ctx context.Context, resource string, id int64) error {
	if id < 1 {
		return ErrInvalidID
	}
	return c.doJSON(ctx, "delete", http.MethodDelete, c.resourcePath(resource, strconv.FormatInt(id, 10)), nil, nil, nil)
}

func (c *Client) BulkDelete(ctx context.Context, resource string, ids []int64) error {
	if len(ids) == 0 {
		return ErrInvalidID
	}
	return c.doJSON(ctx, "bulk_delete", http.MethodDelete, c.resourcePath(resource), nil, domain.DeleteRequest{IDs: ids}, nil)
}

func (c *Client) Create(ctx context.Context, resource string, payload Payload) (domain.Record, error) {
	return c.send(ctx, "create", c.resourcePath(resource), payload)
}

// Update posts to the item path; the upstream API does not accept PUT/PATCH.
func (c *Client) Update(ctx context.Context, resource string, id int64, payload Payload) (domain.Record, error) {
	if id < 1 {
		return nil, ErrInvalidID
	}
	return c.send(ctx, "update", c.resourcePath(resource, strconv.FormatInt(id, 10)), payload)
}

func (c *Client) Import(ctx context.Context, resource string, filename string, file io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(file, maxBlobSize+1))
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	if len(data) > maxBlobSize {
		return fmt.Errorf("import file exceeds %d bytes", maxBlobSize)
	}
	body, contentType, err := encodeMultipart(Payload{Files: []FilePart{{Field: "file", Filename: filename, Data: data}}})
	if err != nil {
		return err
	}
	return c.do(ctx, "import", http.MethodPost, c.resourcePath(resource, "import"), nil, body, contentType, nil)
}

// Download fetches a binary export or template. A nil body means GET.
func (c *Client) Download(ctx context.Context, resource string, action string, params url.Values, body any) (Blob, error) {
	method := http.MethodGet
	var reader io.Reader
	contentType := ""
	if body != nil {
		method = http.MethodPost
		raw, err := json.Marshal(body)
		if err != nil {
			return Blob{}, err
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}

	var blob Blob
	err := c.do(ctx, "download_"+action, method, c.resourcePath(resource, action), params, reader, contentType, func(resp *http.Response) error {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxBlobSize {
			return fmt.Errorf("download exceeds %d bytes", maxBlobSize)
		}
		blob = Blob{
			Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition"), resource+"-"+action),
			ContentType: resp.Header.Get("Content-Type"),
			Data:        data,
		}
		return nil
	})
	return blob, err
}

type LoginResult struct {
	Token     string     `json:"token"`
	Email     string     `json:"email"`
	CompanyID flexString `json:"company_id"`
	OutletID  flexString `json:"outlet_id"`
}

func (c *Client) Login(ctx context.Context, email string, password string) (LoginResult, error) {
	var envelope itemEnvelope[LoginResult]
	err := c.doJSON(ctx, "login", http.MethodPost, "/v1/auth/login", nil, domain.LoginRequest{Email: email, Password: password}, &envelope)
	return envelope.Data, err
}

func (c *Client) SalesSummary(ctx context.Context, companyID string, outletID string, dateRange domain.DateRange) (domain.SalesSummary, error) {
	if strings.TrimSpace(companyID) == "" {
		return domain.SalesSummary{}, ErrMissingScope
	}
	params := url.Values{}
	params.Set("company_id", companyID)
	if outletID != "" {
		params.Set("outlet_id", outletID)
	}
	params.Set("start_date", dateRange.Start)
	params.Set("end_date", dateRange.End)

	var envelope itemEnvelope[domain.SalesSummary]
	if err := c.doJSON(ctx, "sales_summary", http.MethodGet, "/v1/app/dashboard", params, nil, &envelope); err != nil {
		return domain.SalesSummary{}, err
	}
	summary := envelope.Data
	summary.Range = dateRange
	summary.CompanyID = companyID
	summary.OutletID = outletID
	return summary, nil
}

func (c *Client) send(ctx context.Context, operation string, endpoint string, payload Payload) (domain.Record, error) {
	var envelope itemEnvelope[domain.Record]
	if len(payload.Files) > 0 {
		body, contentType, err := encodeMultipart(payload)
		if err != nil {
			return nil, err
		}
		err = c.do(ctx, operation, http.MethodPost, endpoint, nil, body, contentType, decodeInto(&envelope))
		return envelope.Data, err
	}

	fields := payload.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	err := c.doJSON(ctx, operation, http.MethodPost, endpoint, nil, fields, &envelope)
	return envelope.Data, err
}

func (c *Client) doJSON(ctx context.Context, operation string, method string, endpoint string, params url.Values, body any, dest any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}
	var handle func(*http.Response) error
	if dest != nil {
		handle = decodeInto(dest)
	}
	return c.do(ctx, operation, method, endpoint, params, reader, contentType, handle)
}

func (c *Client) do(ctx context.Context, operation string, method string, endpoint string, params url.Values, body io.Reader, contentType string, handle func(*http.Response) error) error {
	target := *c.baseURL
	target.Path = path.Join(c.baseURL.Path, endpoint)
	if params != nil {
		target.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := tokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	startedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream(operation, 0, startedAt)
		return fmt.Errorf("%s %s: %w", method, target.Path, err)
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(operation, resp.StatusCode, startedAt)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if handle == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return handle(resp)
}

func (c *Client) resourcePath(resource string, tail ...string) string {
	parts := append([]string{"/v1/app", strings.Trim(resource, "/")}, tail...)
	return path.Join(parts...)
}

func decodeInto(dest any) func(*http.Response) error {
	return func(resp *http.Response) error {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode upstream response: %w", err)
		}
		return nil
	}
}

func encodeMultipart(payload Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range payload.Fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range payload.Files {
		part, err := writer.CreateFormFile(file.Field, file.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func filenameFromDisposition(header string, fallback string) string {
	if header != "" {
		if _, params, err := mime.ParseMediaType(header); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return path.Base(name)
			}
		}
	}
	return fallback
}

// flexString accepts either a JSON string or a JSON number; the upstream API
// is not consistent about how it encodes ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return string(f)
}
