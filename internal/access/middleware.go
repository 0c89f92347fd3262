package access

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fundops/internal/identity"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/platform/httputil"
)

// FundParam is the chi URL parameter naming the fund of a request.
const FundParam = "fundID"

type contextKeyDecision struct{}

// DecisionFrom returns the decision recorded by Authorize.
func DecisionFrom(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(contextKeyDecision{}).(Decision)
	return d, ok
}

// Authorize produces the authorization decision for a route before its
// handler runs. Routes without a fund parameter get a role-only decision.
// Requires identity.Middleware upstream.
func Authorize(guard *Guard, roles ...identity.Role) func(http.Handler) http.Handler {
	required := identity.NewRoles(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor, ok := identity.ActorFrom(ctx)
			if !ok {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor"))
				return
			}

			var decision Decision
			if raw := chi.URLParam(r, FundParam); raw != "" {
				fundID, err := id.ParseFundID(raw)
				if err != nil {
					httputil.WriteError(w, err)
					return
				}
				decision = guard.Decide(actor, fundID, required)
			} else {
				decision = guard.DecideUnscoped(actor, required)
			}

			if err := decision.Err(); err != nil {
				guard.logger.WarnContext(ctx, "authorization denied",
					"actor_id", actor.ID,
					"fund_id", decision.FundID.String(),
					"reason", decision.Reason,
					"request_id", middleware.GetReqID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, contextKeyDecision{}, decision)))
		})
	}
}
