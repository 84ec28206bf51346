package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywallkit/pkg/billing"
)

func TestNewPaddleGateway(t *testing.T) {
	t.Parallel()

	t.Run("requires api key", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewPaddleGateway(billing.PaddleConfig{WebhookSecret: "secret"})
		assert.Error(t, err)
	})

	t.Run("requires webhook secret", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewPaddleGateway(billing.PaddleConfig{APIKey: "key"})
		assert.Error(t, err)
	})

	t.Run("rejects unknown environment", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewPaddleGateway(billing.PaddleConfig{
			APIKey:        "key",
			WebhookSecret: "secret",
			Environment:   "staging",
		})
		assert.Error(t, err)
	})

	t.Run("sandbox environment", func(t *testing.T) {
		t.Parallel()
		gw, err := billing.NewPaddleGateway(billing.PaddleConfig{
			APIKey:        "key",
			WebhookSecret: "secret",
			Environment:   "sandbox",
		})
		require.NoError(t, err)
		assert.NotNil(t, gw)
	})
}

func TestPaddleGateway_ParseWebhook_InvalidSignature(t *testing.T) {
	t.Parallel()

	gw, err := billing.NewPaddleGateway(billing.PaddleConfig{
		APIKey:        "key",
		WebhookSecret: "secret",
	})
	require.NoError(t, err)

	payload := []byte(`{"event_id":"evt_1","event_type":"subscription.updated","data":{"id":"sub_1"}}`)

	_, err = gw.ParseWebhook(context.Background(), payload, "ts=123;h1=deadbeef")
	assert.ErrorIs(t, err, billing.ErrWebhookVerification)
}
