package devapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	apperrors "github.com/louisbranch/adminhub/internal/platform/errors"
	"github.com/louisbranch/adminhub/internal/platform/httpx"
	"github.com/louisbranch/adminhub/internal/platform/id"
	"github.com/louisbranch/adminhub/internal/platform/pagination"
	"github.com/louisbranch/adminhub/internal/platform/requestctx"
	"github.com/louisbranch/adminhub/internal/services/devapi/storage"
	"github.com/louisbranch/adminhub/internal/services/shared/resources"
)

const maxBodyBytes = 1 << 20

var listPageSize = pagination.PageSizeConfig{Default: 20, Max: 100}

type pageWindow struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r.PathValue("resource"))
	if !ok {
		return
	}
	h.list(w, r, res, "")
}

func (h *handler) listNested(w http.ResponseWriter, r *http.Request) {
	res, ok := h.nested(w, r)
	if !ok {
		return
	}
	h.list(w, r, res, r.PathValue("parentId"))
}

func (h *handler) list(w http.ResponseWriter, r *http.Request, res resources.Resource, parentID string) {
	query := r.URL.Query()
	page, err := pagination.ParsePositive(query.Get("page"), 1)
	if err != nil {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidArgument, "page must be a positive integer"))
		return
	}
	limit, err := pagination.ParsePositive(query.Get("limit"), 0)
	if err != nil {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidArgument, "limit must be a positive integer"))
		return
	}
	limit = pagination.ClampPageSize(limit, listPageSize)

	records, total, err := h.store.ListRecords(r.Context(), storage.ListFilter{
		Resource:    res.Name,
		ParentID:    parentID,
		SearchField: res.SearchField,
		Search:      query.Get("search"),
		Status:      query.Get("status"),
		Page:        page,
		Limit:       limit,
	})
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, record.Fields)
	}
	if res.BareList {
		_ = httpx.WriteJSON(w, http.StatusOK, items)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{
		res.Name:     items,
		"pagination": pageWindow{Page: page, Limit: limit, Total: total},
	})
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r.PathValue("resource"))
	if !ok {
		return
	}
	record, err := h.store.GetRecord(r.Context(), res.Name, r.PathValue("id"))
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, record.Fields)
}

func (h *handler) createRecord(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r.PathValue("resource"))
	if !ok {
		return
	}
	h.create(w, r, res, "")
}

func (h *handler) createNested(w http.ResponseWriter, r *http.Request) {
	res, ok := h.nested(w, r)
	if !ok {
		return
	}
	h.create(w, r, res, r.PathValue("parentId"))
}

func (h *handler) create(w http.ResponseWriter, r *http.Request, res resources.Resource, parentID string) {
	fields, err := readFields(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if parentID != "" {
		fields[res.ParentField] = parentID
	}
	parentID, err = parentOf(res, fields)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	recordID, hasID := entitystore.NormalizeID(fields[entitystore.IDField])
	if !hasID {
		generated, err := id.NewID()
		if err != nil {
			h.writeStorageError(w, r, fmt.Errorf("generate id: %w", err))
			return
		}
		recordID = entitystore.EntityID(generated)
	}

	record, _, err := h.store.CreateRecord(r.Context(), storage.Record{
		Resource: res.Name,
		ID:       string(recordID),
		ParentID: parentID,
		Fields:   fields,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		httpx.WriteError(w, apperrors.New(apperrors.CodeConflict, fmt.Sprintf("%s %s already exists", res.Name, recordID)))
		return
	}
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, record.Fields)
}

// updateRecord shallow-merges the body into the stored payload.
func (h *handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, func(existing, body map[string]any) map[string]any {
		merged := make(map[string]any, len(existing)+len(body))
		for key, value := range existing {
			merged[key] = value
		}
		for key, value := range body {
			merged[key] = value
		}
		return merged
	})
}

// replaceRecord stores the body as the whole payload. A nested record keeps
// its parent when the body omits it.
func (h *handler) replaceRecord(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, func(existing, body map[string]any) map[string]any {
		return body
	})
}

func (h *handler) write(w http.ResponseWriter, r *http.Request, combine func(existing, body map[string]any) map[string]any) {
	res, ok := h.resource(w, r.PathValue("resource"))
	if !ok {
		return
	}
	body, err := readFields(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	existing, err := h.store.GetRecord(r.Context(), res.Name, r.PathValue("id"))
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if bodyID, ok := entitystore.NormalizeID(body[entitystore.IDField]); ok && string(bodyID) != existing.ID {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidArgument, "id cannot be changed"))
		return
	}

	fields := combine(existing.Fields, body)
	if res.Nested() {
		if _, ok := fields[res.ParentField]; !ok {
			fields[res.ParentField] = existing.ParentID
		}
	}
	parentID, err := parentOf(res, fields)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	record, _, err := h.store.PutRecord(r.Context(), storage.Record{
		Resource: res.Name,
		ID:       existing.ID,
		ParentID: parentID,
		Fields:   fields,
	})
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, record.Fields)
}

func (h *handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r.PathValue("resource"))
	if !ok {
		return
	}
	if _, err := h.store.DeleteRecord(r.Context(), res.Name, r.PathValue("id")); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) resource(w http.ResponseWriter, name string) (resources.Resource, bool) {
	res, ok := resources.Lookup(name)
	if !ok {
		httpx.WriteError(w, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("unknown resource %q", name)))
		return resources.Resource{}, false
	}
	return res, true
}

func (h *handler) nested(w http.ResponseWriter, r *http.Request) (resources.Resource, bool) {
	res, ok := h.resource(w, r.PathValue("child"))
	if !ok {
		return resources.Resource{}, false
	}
	if res.Parent != r.PathValue("parent") {
		httpx.WriteError(w, apperrors.New(apperrors.CodeNotFound,
			fmt.Sprintf("%s are not nested under %s", res.Name, r.PathValue("parent"))))
		return resources.Resource{}, false
	}
	return res, true
}

func (h *handler) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeNotFound, "record not found", err))
		return
	}
	h.logger.Printf("storage failure: request_id=%s err=%v", requestctx.RequestIDFromContext(r.Context()), err)
	httpx.WriteError(w, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err))
}

// readFields decodes a JSON object body. Numbers stay json.Number.
func readFields(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "read body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "body is required")
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil || fields == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "body must be a JSON object")
	}
	return fields, nil
}

func parentOf(res resources.Resource, fields map[string]any) (string, error) {
	if !res.Nested() {
		return "", nil
	}
	parentID, ok := entitystore.NormalizeID(fields[res.ParentField])
	if !ok {
		return "", apperrors.New(apperrors.CodeInvalidArgument, res.ParentField+" is required")
	}
	fields[res.ParentField] = string(parentID)
	return string(parentID), nil
}
