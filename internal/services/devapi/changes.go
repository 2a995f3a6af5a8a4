package devapi

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/adminhub/internal/platform/errors"
	"github.com/louisbranch/adminhub/internal/platform/httpx"
	"github.com/louisbranch/adminhub/internal/platform/pagination"
)

var changePageSize = pagination.PageSizeConfig{Default: 100, Max: 100}

type changeView struct {
	Seq      uint64 `json:"seq"`
	Resource string `json:"resource"`
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Action   string `json:"action"`
}

type changesResponse struct {
	Changes   []changeView `json:"changes"`
	LatestSeq uint64       `json:"latestSeq"`
}

// listChanges serves the change feed after the given cursor.
func (h *handler) listChanges(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var after uint64
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidArgument, "after must be a change sequence"))
			return
		}
		after = value
	}
	limit, err := pagination.ParsePositive(query.Get("limit"), 0)
	if err != nil {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidArgument, "limit must be a positive integer"))
		return
	}
	limit = pagination.ClampPageSize(limit, changePageSize)

	latest, err := h.store.LatestChangeSeq(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	changes, err := h.store.ListChanges(r.Context(), after, limit)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	resp := changesResponse{Changes: make([]changeView, 0, len(changes)), LatestSeq: latest}
	for _, change := range changes {
		resp.Changes = append(resp.Changes, changeView{
			Seq:      change.Seq,
			Resource: change.Resource,
			ID:       change.ID,
			ParentID: change.ParentID,
			Action:   change.Action,
		})
	}
	_ = httpx.WriteJSON(w, http.StatusOK, resp)
}
