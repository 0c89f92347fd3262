package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"fundops/internal/identity"
	id "fundops/pkg/domain"
)

// Actor builds an actor with the given roles and funds.
func Actor(t *testing.T, actorID string, roles []identity.Role, funds ...id.FundID) identity.Actor {
	t.Helper()
	return identity.Actor{ID: actorID, Roles: identity.NewRoles(roles...), FundIDs: funds}
}

// Caller wraps an actor with a fixed request id.
func Caller(a identity.Actor) identity.Caller {
	return identity.Caller{Actor: a, RequestID: "req-" + a.ID}
}

// WithActor simulates what the identity middleware does for authenticated
// requests.
func WithActor(req *http.Request, a identity.Actor) *http.Request {
	ctx := identity.WithActor(req.Context(), a)
	ctx = context.WithValue(ctx, middleware.RequestIDKey, "req-"+a.ID)
	return req.WithContext(ctx)
}

// ActorHeader renders the trusted actor header payload.
func ActorHeader(t *testing.T, a identity.Actor) string {
	t.Helper()
	funds := make([]string, len(a.FundIDs))
	for i, f := range a.FundIDs {
		funds[i] = f.String()
	}
	b, err := json.Marshal(map[string]any{
		"actor_id": a.ID,
		"roles":    a.Roles.Strings(),
		"fund_ids": funds,
	})
	require.NoError(t, err)
	return string(b)
}
