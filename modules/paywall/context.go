package paywall

import (
	"context"

	"github.com/google/uuid"
)

type userIDCtxKey struct{}

// SetUserIDToContext stores the authenticated user's ID for the paywall
// handlers. Called by whatever authentication middleware fronts the router;
// session issuance itself is out of scope here.
func SetUserIDToContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// GetUserIDFromContext retrieves the authenticated user's ID, if any.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDCtxKey{}).(uuid.UUID)
	return userID, ok
}
