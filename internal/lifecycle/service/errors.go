package service

import (
	"errors"

	"fundops/internal/lifecycle/models"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/platform/sentinel"
)

// errSkip aborts a unit of work that found nothing to do.
var errSkip = errors.New("nothing to do")

func isConflict(err error) bool {
	return errors.Is(err, sentinel.ErrConflict)
}

func alreadyConverted() error {
	return dErrors.NewWithReason(dErrors.CodeConflict, models.ReasonDealAlreadyConverted, "deal has already been converted")
}

func invalidInput(msg string) error {
	return dErrors.New(dErrors.CodeInvalidInput, msg)
}
