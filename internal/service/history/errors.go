package history

import "errors"

// Sentinel errors for the history service layer.
var (
	ErrNotFound        = errors.New("campaign not found")
	ErrNoRecipients    = errors.New("no valid recipients to compare")
	ErrUnknownCampaign = errors.New("unknown campaign id")
)
