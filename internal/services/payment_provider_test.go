// internal/services/payment_provider_test.go
package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/services"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"5", "usd", 500},
		{"19.99", "USD", 1999},
		{"0.005", "eur", 1},
		{"1500", "jpy", 1500},
		{"1500.4", "JPY", 1500},
		{"12000", "krw", 12000},
	}

	for _, tt := range tests {
		t.Run(tt.amount+tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.want, services.MinorUnits(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}

func TestStripeProviderRequiresSecretKey(t *testing.T) {
	provider := services.NewStripeProvider(&config.Config{})
	assert.Equal(t, "stripe", provider.Name())

	_, err := provider.CreateCheckout(context.Background(), &services.CheckoutRequest{
		FeePaymentID:  uuid.New(),
		ApplicationID: uuid.New(),
		Amount:        decimal.NewFromInt(5),
		Currency:      "usd",
	})
	require.Error(t, err)

	assert.NoError(t, provider.ExpireCheckout(context.Background(), "cs_test_1"))
}
