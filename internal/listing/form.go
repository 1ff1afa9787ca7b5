package listing

import (
	"fmt"
	"sort"
	"strings"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/domain"
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// Form is the one dialog shape used for both adding and editing a row.
type Form struct {
	Mode   Mode
	ID     int64
	Fields map[string]string
	Files  []apiclient.FilePart
}

func (f Form) Payload() apiclient.Payload {
	fields := make(map[string]string, len(f.Fields))
	for key, value := range f.Fields {
		fields[key] = strings.TrimSpace(value)
	}
	return apiclient.Payload{Fields: fields, Files: f.Files}
}

func (f Form) has(field string) bool {
	if strings.TrimSpace(f.Fields[field]) != "" {
		return true
	}
	for _, file := range f.Files {
		if file.Field == field && len(file.Data) > 0 {
			return true
		}
	}
	return false
}

// FormRules lists the fields that must be filled for each dialog mode.
type FormRules struct {
	Create []string
	Edit   []string
}

func (r FormRules) Validate(form Form) domain.FieldErrors {
	errs := domain.FieldErrors{}

	required := r.Create
	switch form.Mode {
	case ModeCreate:
	case ModeEdit:
		required = r.Edit
		if form.ID < 1 {
			errs["id"] = "Select an item to edit"
		}
	default:
		errs["mode"] = fmt.Sprintf("Unknown form mode %q", form.Mode)
		return errs
	}

	for _, field := range required {
		if !form.has(field) {
			errs[field] = FieldLabel(field) + " is required"
		}
	}
	return errs
}

// ValidationError carries per-field messages, from local checks or from the
// server's 422 answer.
type ValidationError struct {
	Fields  domain.FieldErrors
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "invalid fields: " + strings.Join(fields, ", ")
}

// FieldLabel turns "phone_number" into "Phone number".
func FieldLabel(field string) string {
	label := strings.TrimSpace(strings.ReplaceAll(field, "_", " "))
	if label == "" {
		return "Field"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func mergeFieldErrors(dst domain.FieldErrors, src domain.FieldErrors) domain.FieldErrors {
	if dst == nil {
		dst = domain.FieldErrors{}
	}
	for field, message := range src {
		dst[field] = message
	}
	return dst
}
