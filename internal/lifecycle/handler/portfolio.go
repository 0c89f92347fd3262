package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	id "fundops/pkg/domain"
	"fundops/pkg/platform/httputil"
)

func (h *Handler) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req service.CreateFundRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	fund, err := h.svc.CreateFund(r.Context(), caller, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, fund)
}

func (h *Handler) handleListFunds(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	funds, err := h.svc.ListFunds(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(funds))
}

func (h *Handler) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var req service.CreateDealRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	deal, err := h.svc.CreateDeal(r.Context(), caller, fundID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, deal)
}

func (h *Handler) handleListDeals(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var filter models.DealFilter
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage, err := models.ParseDealStage(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Stage = stage
	}
	deals, err := h.svc.ListDeals(r.Context(), caller, fundID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(deals))
}

func (h *Handler) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	dealID, err := id.ParseDealID(chi.URLParam(r, "dealID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	deal, err := h.svc.GetDeal(r.Context(), caller, fundID, dealID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, deal)
}

func (h *Handler) handleDecideDeal(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	dealID, err := id.ParseDealID(chi.URLParam(r, "dealID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.DecideDealRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	deal, err := h.svc.DecideDeal(r.Context(), caller, fundID, dealID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, deal)
}

func (h *Handler) handleConvertDeal(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	dealID, err := id.ParseDealID(chi.URLParam(r, "dealID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.ConvertDeal(r.Context(), caller, fundID, dealID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, res)
}

func (h *Handler) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	var req service.CreateAssetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	asset, err := h.svc.CreateAsset(r.Context(), caller, fundID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, asset)
}

func (h *Handler) handleListAssets(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	assets, err := h.svc.ListAssets(r.Context(), caller, fundID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, list(assets))
}

func (h *Handler) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail, err := h.svc.GetAsset(r.Context(), caller, fundID, assetID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, detail)
}

func (h *Handler) handleAttachFundInvestment(w http.ResponseWriter, r *http.Request) {
	caller, fundID, ok := h.scoped(w, r)
	if !ok {
		return
	}
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req service.AttachFundInvestmentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.AttachFundInvestment(r.Context(), caller, fundID, assetID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, res)
}
