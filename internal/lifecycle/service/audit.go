package service

import (
	"context"

	"fundops/internal/audit"
	"fundops/internal/identity"
	id "fundops/pkg/domain"
)

func (s *Service) ListAuditEvents(ctx context.Context, caller identity.Caller, fundID id.FundID,
	q audit.Query) (_ []audit.Event, err error) {
	ctx, end := s.begin(ctx, OpListAuditEvents, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpListAuditEvents); err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 200
	}
	return s.audit.List(ctx, fundID, q)
}

// VerifyAuditChain recomputes the fund's hash chain from genesis.
func (s *Service) VerifyAuditChain(ctx context.Context, caller identity.Caller,
	fundID id.FundID) (_ audit.Verification, err error) {
	ctx, end := s.begin(ctx, OpVerifyAuditChain, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpVerifyAuditChain); err != nil {
		return audit.Verification{}, err
	}
	return s.audit.Verify(ctx, fundID)
}
