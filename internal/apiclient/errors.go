package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"kasiran/admin/internal/domain"
)

// APIError is a non-2xx answer from the upstream API.
type APIError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

// FieldErrors keeps the first message of each field, which is what the
// dashboard shows under the input.
func (e *APIError) FieldErrors() domain.FieldErrors {
	if len(e.Fields) == 0 {
		return nil
	}
	out := make(domain.FieldErrors, len(e.Fields))
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if messages := e.Fields[key]; len(messages) > 0 {
			out[key] = messages[0]
		}
	}
	return out
}

type errorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return apiErr
	}
	apiErr.Message = body.Message
	apiErr.Fields = body.Errors
	return apiErr
}

// DisplayMessage reduces any error to the banner text shown to the user.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, ErrMissingScope) {
		return "Company is not selected. Please sign in again."
	}
	return GenericErrorMessage
}
