package metering

import "errors"

var (
	ErrQuotaNotFound      = errors.New("quota record not found")
	ErrUnauthenticated    = errors.New("unauthenticated user")
	ErrFailedToCheckPaid  = errors.New("failed to check paid access")
	ErrFailedToLoadQuota  = errors.New("failed to load quota")
	ErrFailedToResetQuota = errors.New("failed to reset quota")
	ErrFailedToRecord     = errors.New("failed to record access")
)
