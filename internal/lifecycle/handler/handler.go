// Package handler exposes the lifecycle engine over HTTP. Every fund route is
// gated by access.Authorize before its handler runs; the engine then repeats
// the check for the exact operation.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fundops/internal/access"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/lifecycle/service"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/platform/httputil"
)

type Handler struct {
	svc    *service.Service
	guard  *access.Guard
	logger *slog.Logger
}

func New(svc *service.Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, guard: guard, logger: logger}
}

// Register mounts the engine routes. identity.Middleware must run upstream.
func (h *Handler) Register(r chi.Router) {
	r.With(h.authorize(service.OpListFunds)).Get("/funds", h.handleListFunds)
	r.With(h.authorize(service.OpCreateFund)).Post("/funds", h.handleCreateFund)

	r.Route("/funds/{"+access.FundParam+"}", func(r chi.Router) {
		r.With(h.authorize(service.OpCreateDeal)).Post("/deals", h.handleCreateDeal)
		r.With(h.authorize(service.OpListDeals)).Get("/deals", h.handleListDeals)
		r.With(h.authorize(service.OpGetDeal)).Get("/deals/{dealID}", h.handleGetDeal)
		r.With(h.authorize(service.OpDecideDeal)).Post("/deals/{dealID}/decision", h.handleDecideDeal)
		r.With(h.authorize(service.OpConvertDeal)).Post("/deals/{dealID}/convert", h.handleConvertDeal)

		r.With(h.authorize(service.OpCreateAsset)).Post("/assets", h.handleCreateAsset)
		r.With(h.authorize(service.OpListAssets)).Get("/assets", h.handleListAssets)
		r.With(h.authorize(service.OpGetAsset)).Get("/assets/{assetID}", h.handleGetAsset)
		r.With(h.authorize(service.OpAttachFundInvestment)).Put("/assets/{assetID}/fund-investment", h.handleAttachFundInvestment)

		r.With(h.authorize(service.OpListObligations)).Get("/obligations", h.handleListObligations)
		r.With(h.authorize(service.OpUpdateObligationStatus, service.OpWaiveObligation)).
			Patch("/obligations/{obligationID}", h.handleUpdateObligation)
		r.With(h.authorize(service.OpGenerateRecurringObligations)).Post("/obligations/generate", h.handleGenerateObligations)
		r.With(h.authorize(service.OpScanOverdueObligations)).Post("/obligations/scan", h.handleScan)

		r.With(h.authorize(service.OpListAlerts)).Get("/alerts", h.handleListAlerts)
		r.With(h.authorize(service.OpListActions)).Get("/actions", h.handleListActions)
		r.With(h.authorize(service.OpUpdateActionStatus)).Patch("/actions/{actionID}", h.handleUpdateAction)

		r.With(h.authorize(service.OpRegisterEvidence)).Post("/evidence", h.handleRegisterEvidence)
		r.With(h.authorize(service.OpConfirmEvidenceUpload)).Post("/evidence/{evidenceID}/confirm", h.handleConfirmEvidence)
		r.With(h.authorize(service.OpSearchEvidence)).Get("/evidence/search", h.handleSearchEvidence)

		r.With(h.authorize(service.OpCreateReportPack)).Post("/report-packs", h.handleCreatePack)
		r.With(h.authorize(service.OpListReportPacks)).Get("/report-packs", h.handleListPacks)
		r.With(h.authorize(service.OpListPublishedReportPacks)).Get("/report-packs/published", h.handleListPublishedPacks)
		r.With(h.authorize(service.OpGetReportPack)).Get("/report-packs/{packID}", h.handleGetPack)
		r.With(h.authorize(service.OpGenerateReportPack)).Post("/report-packs/{packID}/generate", h.handleGeneratePack)
		r.With(h.authorize(service.OpAnnotateReportSection)).Put("/report-packs/{packID}/sections/{sectionKey}", h.handleAnnotateSection)
		r.With(h.authorize(service.OpPublishReportPack)).Post("/report-packs/{packID}/publish", h.handlePublishPack)
		r.With(h.authorize(service.OpArchiveReportPack)).Post("/report-packs/{packID}/archive", h.handleArchivePack)

		r.With(h.authorize(service.OpListAuditEvents)).Get("/audit-events", h.handleListAuditEvents)
		r.With(h.authorize(service.OpVerifyAuditChain)).Get("/audit-events/verify", h.handleVerifyAuditChain)
	})
}

// authorize gates a route on the union of the roles of ops.
func (h *Handler) authorize(ops ...service.Operation) func(http.Handler) http.Handler {
	var roles []identity.Role
	for _, op := range ops {
		roles = append(roles, service.RolesFor(op)...)
	}
	return access.Authorize(h.guard, roles...)
}

// scoped returns the caller and the fund the route was authorized for.
func (h *Handler) scoped(w http.ResponseWriter, r *http.Request) (identity.Caller, id.FundID, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return identity.Caller{}, id.FundID{}, false
	}
	decision, ok := access.DecisionFrom(r.Context())
	if !ok || decision.FundID.IsNil() {
		h.fail(w, r, dErrors.New(dErrors.CodeInternal, "authorization decision missing"))
		return identity.Caller{}, id.FundID{}, false
	}
	return caller, decision.FundID, true
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (identity.Caller, bool) {
	caller, ok := identity.CallerFrom(r)
	if !ok {
		h.fail(w, r, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
		return identity.Caller{}, false
	}
	return caller, true
}

// fail writes err. Only unexpected failures are logged here; the engine has
// already logged denials and the client sees validation errors.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) ok(w http.ResponseWriter, v any) {
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) created(w http.ResponseWriter, v any) {
	httputil.WriteJSON(w, http.StatusCreated, v)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

func queryDate(r *http.Request, key string) (models.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return models.Date{}, nil
	}
	return models.ParseDate(raw)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, key+" must be a non-negative integer")
	}
	return n, nil
}

func queryAssetID(r *http.Request) (*id.AssetID, error) {
	raw := r.URL.Query().Get("asset_id")
	if raw == "" {
		return nil, nil
	}
	assetID, err := id.ParseAssetID(raw)
	if err != nil {
		return nil, err
	}
	return &assetID, nil
}
