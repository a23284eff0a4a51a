package services

import (
	"github.com/leadloop/leadloop/pkg/serrors"
)

// ErrDataIntegrity marks a turn that cannot proceed because required lead or
// workspace state is missing. It is fatal to the single turn only; scheduler
// loops log it and keep running.
var ErrDataIntegrity = serrors.NewError(
	"CRM_DATA_INTEGRITY",
	"required crm record missing or inconsistent",
	"",
)
