// internal/services/payment_provider.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/metrics"
)

type CheckoutRequest struct {
	FeePaymentID  uuid.UUID
	ApplicationID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerEmail string
	ReturnURL     string
}

type CheckoutHandle struct {
	ExternalReference string
	CheckoutURL       string
}

// PaymentProvider is the outbound side of the fee flow.
type PaymentProvider interface {
	Name() string
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutHandle, error)
	// ExpireCheckout closes a checkout that the portal no longer honours.
	ExpireCheckout(ctx context.Context, externalReference string) error
}

type StripeProvider struct {
	config *config.Config
}

func NewStripeProvider(cfg *config.Config) *StripeProvider {
	stripe.Key = cfg.Payment.StripeSecretKey
	return &StripeProvider{config: cfg}
}

func (p *StripeProvider) Name() string {
	return "stripe"
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutHandle, error) {
	if p.config.Payment.StripeSecretKey == "" {
		return nil, errors.New("stripe is not configured")
	}

	started := time.Now()
	defer func() {
		metrics.CheckoutLatency.Observe(time.Since(started).Seconds())
	}()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withQuery(req.ReturnURL, "checkout=success")),
		CancelURL:         stripe.String(withQuery(req.ReturnURL, "checkout=cancelled")),
		ClientReferenceID: stripe.String(req.FeePaymentID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(MinorUnits(req.Amount, req.Currency)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("fee_payment_id", req.FeePaymentID.String())
	params.AddMetadata("application_id", req.ApplicationID.String())
	params.SetIdempotencyKey(req.FeePaymentID.String())
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutHandle{
		ExternalReference: sess.ID,
		CheckoutURL:       sess.URL,
	}, nil
}

func (p *StripeProvider) ExpireCheckout(ctx context.Context, externalReference string) error {
	if p.config.Payment.StripeSecretKey == "" {
		return nil
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := session.Expire(externalReference, params); err != nil {
		return fmt.Errorf("failed to expire checkout session: %w", err)
	}
	return nil
}

var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// MinorUnits converts an amount to the provider's smallest currency unit.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func withQuery(base, query string) string {
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}
