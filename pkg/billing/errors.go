package billing

import "errors"

var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrDuplicatePayment          = errors.New("payment already recorded")

	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrWebhookVerification = errors.New("webhook signature verification failed")
	ErrMalformedWebhook    = errors.New("malformed webhook payload")

	ErrMissingPaymentMethod = errors.New("payment method reference is required")
	ErrMissingUserID        = errors.New("user ID is required")

	ErrFailedToSaveSubscription = errors.New("failed to save subscription")
	ErrFailedToRecordPayment    = errors.New("failed to record payment")
	ErrFailedToUpdateQuota      = errors.New("failed to update quota limit")
)
