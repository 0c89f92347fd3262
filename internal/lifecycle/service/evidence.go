package service

import (
	"context"

	"fundops/internal/audit"
	"fundops/internal/identity"
	"fundops/internal/lifecycle/models"
	"fundops/internal/scope"
	id "fundops/pkg/domain"
	dErrors "fundops/pkg/domain-errors"
)

// ReasonEvidenceUploadMissing is returned when an upload is confirmed before
// the blob exists.
const ReasonEvidenceUploadMissing = "evidence_upload_missing"

type RegisterEvidenceRequest struct {
	Folder       string           `json:"folder"`
	Filename     string           `json:"filename"`
	DealID       *id.DealID       `json:"deal_id"`
	ActionID     *id.ActionID     `json:"action_id"`
	ReportPackID *id.ReportPackID `json:"report_pack_id"`
}

type SearchEvidenceRequest struct {
	Query string `json:"query"`
	// Partitions narrows the search; empty means every permitted partition.
	Partitions []string `json:"partitions"`
	// Unrestricted asks to bypass partition narrowing. Only actors with an
	// unrestricted scope may ask.
	Unrestricted bool `json:"unrestricted"`
	Limit        int  `json:"limit"`
}

// RegisterEvidence records evidence metadata and reserves its storage URI.
// The upload is incomplete until ConfirmEvidenceUpload.
func (s *Service) RegisterEvidence(ctx context.Context, caller identity.Caller, fundID id.FundID,
	req RegisterEvidenceRequest) (_ *models.Evidence, err error) {
	ctx, end := s.begin(ctx, OpRegisterEvidence, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpRegisterEvidence); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "evidence storage is not configured")
	}
	folder, err := models.CleanFolder(req.Folder)
	if err != nil {
		return nil, err
	}
	filename, err := models.CleanFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	evidenceID := id.NewEvidenceID()
	uri, err := s.blobs.ReserveURI(ctx, fundID, evidenceID, folder, filename)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve evidence storage")
	}
	at := now(ctx)
	ev := &models.Evidence{
		ID:           evidenceID,
		FundID:       fundID,
		DealID:       req.DealID,
		ActionID:     req.ActionID,
		ReportPackID: req.ReportPackID,
		Folder:       folder,
		Filename:     filename,
		StorageURI:   uri,
		CreatedBy:    caller.Actor.ID,
		CreatedAt:    at,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.requireFund(ctx, fundID); err != nil {
			return err
		}
		level, err := s.checkEvidenceLinks(ctx, fundID, ev)
		if err != nil {
			return err
		}
		if err := s.stores.Evidence.InsertEvidence(ctx, ev); err != nil {
			return storeErr(err, "evidence")
		}
		return s.record(ctx, caller, change{
			fundID:     fundID,
			access:     level,
			action:     audit.ActionEvidenceRegistered,
			entityType: "evidence",
			entityID:   ev.ID.String(),
			after:      ev,
		})
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// checkEvidenceLinks verifies every linked entity lives in the same fund and
// returns the most restrictive access level among them.
func (s *Service) checkEvidenceLinks(ctx context.Context, fundID id.FundID, ev *models.Evidence) (models.AccessLevel, error) {
	level := models.AccessStandard
	if ev.DealID != nil {
		deal, err := s.stores.Deals.GetDeal(ctx, fundID, *ev.DealID)
		if err != nil {
			return "", storeErr(err, "deal")
		}
		level = deal.AccessLevel
	}
	if ev.ActionID != nil {
		action, err := s.stores.Actions.GetAction(ctx, fundID, *ev.ActionID)
		if err != nil {
			return "", storeErr(err, "action")
		}
		if action.Status == models.ActionClosed {
			return "", dErrors.NewWithReason(dErrors.CodeValidation, models.ReasonInvalidActionTransition,
				"evidence cannot be attached to a closed action")
		}
		assetLevel, err := s.assetAccess(ctx, fundID, action.AssetID)
		if err != nil {
			return "", err
		}
		if assetLevel != models.AccessStandard {
			level = assetLevel
		}
	}
	if ev.ReportPackID != nil {
		pack, err := s.stores.Reports.GetPack(ctx, fundID, *ev.ReportPackID)
		if err != nil {
			return "", storeErr(err, "report pack")
		}
		if err := pack.CanAnnotate(); err != nil {
			return "", err
		}
	}
	return level, nil
}

// ConfirmEvidenceUpload completes the two-phase upload once the blob exists.
func (s *Service) ConfirmEvidenceUpload(ctx context.Context, caller identity.Caller, fundID id.FundID,
	evidenceID id.EvidenceID) (_ *models.Evidence, err error) {
	ctx, end := s.begin(ctx, OpConfirmEvidenceUpload, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpConfirmEvidenceUpload); err != nil {
		return nil, err
	}
	current, err := s.stores.Evidence.GetEvidence(ctx, fundID, evidenceID)
	if err != nil {
		return nil, storeErr(err, "evidence")
	}
	if err := current.CanConfirmUpload(); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "evidence storage is not configured")
	}
	exists, err := s.blobs.Exists(ctx, current.StorageURI)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check evidence storage")
	}
	if !exists {
		return nil, dErrors.NewWithReason(dErrors.CodeValidation, ReasonEvidenceUploadMissing,
			"no uploaded content found for evidence")
	}
	at := now(ctx)

	var updated *models.Evidence
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var before models.Evidence
		ev, err := s.stores.Evidence.ExecuteEvidence(ctx, fundID, evidenceID,
			func(e *models.Evidence) error {
				before = *e
				return e.CanConfirmUpload()
			},
			func(e *models.Evidence) { e.ApplyUpload(at) },
		)
		if err != nil {
			return storeErr(err, "evidence")
		}
		updated = ev
		return s.record(ctx, caller, change{
			fundID:     fundID,
			action:     audit.ActionEvidenceConfirmed,
			entityType: "evidence",
			entityID:   ev.ID.String(),
			before:     &before,
			after:      ev,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SearchEvidence runs a fund-scoped search and narrows the hits to the
// partitions the caller's roles permit. An actor with no permitted partition
// gets an empty result, never an error.
func (s *Service) SearchEvidence(ctx context.Context, caller identity.Caller, fundID id.FundID,
	req SearchEvidenceRequest) (_ []SearchHit, err error) {
	ctx, end := s.begin(ctx, OpSearchEvidence, fundID)
	defer end(&err)

	if err := s.authorize(ctx, caller, fundID, OpSearchEvidence); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	scopeReq := scope.Request{Unrestricted: req.Unrestricted}
	for _, p := range req.Partitions {
		scopeReq.Partitions = append(scopeReq.Partitions, scope.Partition(p))
	}
	visible, all, err := scope.Resolve(s.policy, caller.Actor, scopeReq)
	if err != nil {
		return nil, err
	}
	var partitions []string
	if !all {
		if len(visible) == 0 {
			return []SearchHit{}, nil
		}
		partitions = make([]string, len(visible))
		for i, p := range visible {
			partitions[i] = string(p)
		}
	}
	hits, err := s.search.Search(ctx, fundID, req.Query, partitions, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "evidence search failed")
	}
	// Providers are not trusted to honor the partition list.
	hits, err = scope.Filter(s.policy, caller.Actor, hits, hitPartition, scopeReq)
	if err != nil {
		return nil, err
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func hitPartition(h SearchHit) scope.Partition {
	return scope.Partition(h.Partition)
}
