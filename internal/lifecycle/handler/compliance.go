package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/httputil"
	platformstrings "fundops/pkg/platform/strings"
)

func (h *Handler) handleListObligations(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	assetID, err := queryAssetID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := models.ObligationFilter{
		AssetID: assetID,
		Type:    models.ObligationType(strings.ToUpper(r.URL.Query().Get("type"))),
	}
	for _, raw := range r.URL.Query()["status"] {
		status, err := models.ParseObligationStatus(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if filter.DueBefore, err = queryDate(r, "due_before"); err != nil {
		h.fail(w, r, err)
		return
	}
	obligations, err := h.svc.ListObligations(r.Context(), caller, fundID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(obligations))
}

func (h *Handler) handleUpdateObligation(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	obligationID, err := id.ParseObligationID(chi.URLParam(r, "obligationID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.UpdateObligationStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.svc.UpdateObligationStatus(r.Context(), caller, fundID, obligationID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, o)
}

func (h *Handler) handleGenerateObligations(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.svc.GenerateRecurringObligations(r.Context(), caller, fundID, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(created))
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.ScanOverdueObligations(r.Context(), caller, fundID, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	assetID, err := queryAssetID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := models.AlertFilter{AssetID: assetID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if filter.Status, err = models.ParseAlertStatus(raw); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	alerts, err := h.svc.ListAlerts(r.Context(), caller, fundID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(alerts))
}

func (h *Handler) handleListActions(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	assetID, err := queryAssetID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := models.ActionFilter{AssetID: assetID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if filter.Status, err = models.ParseActionStatus(raw); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	actions, err := h.svc.ListActions(r.Context(), caller, fundID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(actions))
}

func (h *Handler) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	actionID, err := id.ParseActionID(chi.URLParam(r, "actionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.UpdateActionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	action, err := h.svc.UpdateActionStatus(r.Context(), caller, fundID, actionID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, action)
}

func (h *Handler) handleRegisterEvidence(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var req service.RegisterEvidenceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.svc.RegisterEvidence(r.Context(), caller, fundID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, ev)
}

func (h *Handler) handleConfirmEvidence(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.svc.ConfirmEvidenceUpload(r.Context(), caller, fundID, evidenceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, ev)
}

// handleSearchEvidence takes q, repeated or comma-separated partition,
// unrestricted=true and limit.
func (h *Handler) handleSearchEvidence(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := service.SearchEvidenceRequest{
		Query:        q.Get("q"),
		Unrestricted: q.Get("unrestricted") == "true",
	}
	req.Partitions = platformstrings.SplitList(q["partition"]...)
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req.Limit = limit
	hits, err := h.svc.SearchEvidence(r.Context(), caller, fundID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(hits))
}
