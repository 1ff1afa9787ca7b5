package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/listing"
	"kasiran/admin/internal/service"
)

func (a *API) handleResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": service.Resources()})
}

// handlePage applies page, size and search from the query string. A
// parameter that is absent leaves the current value alone.
func (a *API) handlePage(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	var change listing.QueryChange

	if values.Has("page") {
		page, err := strconv.Atoi(strings.TrimSpace(values.Get("page")))
		if err != nil {
			writeError(w, http.StatusBadRequest, listing.ErrInvalidPage)
			return
		}
		change.Page = &page
	}
	if values.Has("size") {
		size, err := strconv.Atoi(strings.TrimSpace(values.Get("size")))
		if err != nil {
			writeError(w, http.StatusBadRequest, listing.ErrInvalidPageSize)
			return
		}
		change.PageSize = &size
	}
	if values.Has("search") {
		search := values.Get("search")
		change.Search = &search
	}

	view, err := a.service.ListPage(r.Context(), r.PathValue("resource"), change)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleToggleItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.ToggleItem(r.Context(), r.PathValue("resource"), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleToggleAll(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ToggleAll(r.Context(), r.PathValue("resource"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ClearSelection(r.Context(), r.PathValue("resource"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDelete removes the ids in the body, or the current selection when
// the body is empty.
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req domain.DeleteRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, view, err := a.service.DeleteItems(r.Context(), r.PathValue("resource"), req.IDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": result.Deleted, "view": view})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	a.submitForm(w, r, listing.Form{Mode: listing.ModeCreate})
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.submitForm(w, r, listing.Form{Mode: listing.ModeEdit, ID: id})
}

func (a *API) submitForm(w http.ResponseWriter, r *http.Request, form listing.Form) {
	fields, files, err := readFormBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	form.Fields = fields
	form.Files = files

	view, err := a.service.SubmitForm(r.Context(), r.PathValue("resource"), form)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if form.Mode == listing.ModeCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
}

// readFormBody accepts either a flat JSON object or multipart/form-data with
// optional file parts.
func readFormBody(r *http.Request) (map[string]string, []apiclient.FilePart, error) {
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxUploadBody); err != nil {
			return nil, nil, err
		}
		fields := make(map[string]string, len(r.MultipartForm.Value))
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
		var files []apiclient.FilePart
		for field, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			header := headers[0]
			file, err := header.Open()
			if err != nil {
				return nil, nil, err
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return nil, nil, err
			}
			files = append(files, apiclient.FilePart{
				Field:       field,
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
		return fields, files, nil
	}

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, nil, err
	}
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch typed := value.(type) {
		case nil:
			fields[key] = ""
		case string:
			fields[key] = typed
		case json.Number:
			fields[key] = typed.String()
		case bool:
			fields[key] = strconv.FormatBool(typed)
		default:
			return nil, nil, fmt.Errorf("field %q must be a string, number or boolean", key)
		}
	}
	return fields, nil, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		writeError(w, http.StatusBadRequest, errors.New("expected multipart/form-data with a file field"))
		return
	}
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, service.ErrEmptyImportPayload)
		return
	}
	defer file.Close()

	view, err := a.service.ImportFile(r.Context(), r.PathValue("resource"), header.Filename, file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleTemplate(w http.ResponseWriter, r *http.Request) {
	blob, err := a.service.ImportTemplate(r.Context(), r.PathValue("resource"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeBlob(w, blob)
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	blob, err := a.service.Export(r.Context(), r.PathValue("resource"), r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeBlob(w, blob)
}
