package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/httputil"
)

func (h *Handler) handleCreatePack(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var req service.CreateReportPackRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pack, err := h.svc.CreateReportPack(r.Context(), caller, fundID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, pack)
}

func (h *Handler) handleListPacks(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var filter models.ReportPackFilter
	for _, raw := range r.URL.Query()["status"] {
		status, err := models.ParseReportPackStatus(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	packs, err := h.svc.ListReportPacks(r.Context(), caller, fundID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(packs))
}

func (h *Handler) handleListPublishedPacks(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	packs, err := h.svc.ListPublishedReportPacks(r.Context(), caller, fundID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(packs))
}

type packCall struct {
	caller identity.Caller
	fundID id.FundID
	packID id.ReportPackID
}

// packRequest resolves the caller, fund and pack ID shared by the per-pack routes.
func (h *Handler) packRequest(w http.ResponseWriter, r *http.Request) (packCall, bool) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return packCall{}, false
	}
	packID, err := id.ParseReportPackID(chi.URLParam(r, "packID"))
	if err != nil {
		h.fail(w, r, err)
		return packCall{}, false
	}
	return packCall{caller: caller, fundID: fundID, packID: packID}, true
}

func (h *Handler) handleGetPack(w http.ResponseWriter, r *http.Request) {
	pc, ok := h.packRequest(w, r)
	if !ok {
		return
	}
	pack, err := h.svc.GetReportPack(r.Context(), pc.caller, pc.fundID, pc.packID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, pack)
}

func (h *Handler) handleGeneratePack(w http.ResponseWriter, r *http.Request) {
	pc, ok := h.packRequest(w, r)
	if !ok {
		return
	}
	pack, err := h.svc.GenerateReportPack(r.Context(), pc.caller, pc.fundID, pc.packID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, pack)
}

func (h *Handler) handleAnnotateSection(w http.ResponseWriter, r *http.Request) {
	pc, ok := h.packRequest(w, r)
	if !ok {
		return
	}
	key, err := models.ParseSectionKey(chi.URLParam(r, "sectionKey"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.AnnotateSectionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	section, err := h.svc.AnnotateReportSection(r.Context(), pc.caller, pc.fundID, pc.packID, key, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, section)
}

func (h *Handler) handlePublishPack(w http.ResponseWriter, r *http.Request) {
	pc, ok := h.packRequest(w, r)
	if !ok {
		return
	}
	pack, err := h.svc.PublishReportPack(r.Context(), pc.caller, pc.fundID, pc.packID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, pack)
}

func (h *Handler) handleArchivePack(w http.ResponseWriter, r *http.Request) {
	pc, ok := h.packRequest(w, r)
	if !ok {
		return
	}
	pack, err := h.svc.ArchiveReportPack(r.Context(), pc.caller, pc.fundID, pc.packID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, pack)
}

func (h *Handler) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := audit.Query{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Action:     audit.Action(q.Get("action")),
	}
	after, err := queryInt(r, "after")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	query.AfterSequence = int64(after)
	if query.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.svc.ListAuditEvents(r.Context(), caller, fundID, query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(events))
}

func (h *Handler) handleVerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	v, err := h.svc.VerifyAuditChain(r.Context(), caller, fundID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, v)
}
