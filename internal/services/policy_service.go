// internal/services/policy_service.go
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/models"
)

// DiscountEvaluator decides whether an application asks for a discount that needs a human look.
type DiscountEvaluator interface {
	EvaluatesDiscount(popup *models.Popup, application *models.Application) bool
}

// PopupPolicy is the read-only projection of a popup that the lifecycle engine consults.
type PopupPolicy struct {
	PopupID          uuid.UUID       `json:"popup_id"`
	Name             string          `json:"name"`
	RequiresApproval bool            `json:"requires_approval"`
	ApplicationFee   decimal.Decimal `json:"application_fee"`
	Currency         string          `json:"currency"`
	FormSchema       models.JSONB    `json:"form_schema,omitempty"`

	popup    *models.Popup
	discount DiscountEvaluator
}

func (p *PopupPolicy) FeeRequired() bool {
	return p.ApplicationFee.GreaterThan(decimal.Zero)
}

func (p *PopupPolicy) EvaluatesDiscount(application *models.Application) bool {
	if p.discount == nil {
		return false
	}
	return p.discount.EvaluatesDiscount(p.popup, application)
}

type PolicyService struct {
	db              *gorm.DB
	discount        DiscountEvaluator
	defaultCurrency string
}

type CreatePopupRequest struct {
	Slug             string          `json:"slug" validate:"required,slug"`
	Name             string          `json:"name" validate:"required,max=255"`
	RequiresApproval bool            `json:"requires_approval"`
	ApplicationFee   decimal.Decimal `json:"application_fee"`
	Currency         string          `json:"currency" validate:"omitempty,len=3"`
	DiscountFields   []string        `json:"discount_fields"`
	FormSchema       models.JSONB    `json:"form_schema"`
}

func NewPolicyService(db *gorm.DB, discount DiscountEvaluator, defaultCurrency string) *PolicyService {
	if discount == nil {
		discount = FieldDiscountEvaluator{}
	}
	if defaultCurrency == "" {
		defaultCurrency = "usd"
	}
	return &PolicyService{
		db:              db,
		discount:        discount,
		defaultCurrency: defaultCurrency,
	}
}

// Resolve reads the popup fresh on every call; nothing is cached across operations.
func (s *PolicyService) Resolve(ctx context.Context, popupID uuid.UUID) (*PopupPolicy, error) {
	return s.resolve(s.db.WithContext(ctx), popupID)
}

// resolve reads through the caller's handle so it sees the same transaction.
func (s *PolicyService) resolve(tx *gorm.DB, popupID uuid.UUID) (*PopupPolicy, error) {
	var popup models.Popup
	if err := tx.First(&popup, "id = ?", popupID).Error; err != nil {
		return nil, lookupError("popup", err)
	}

	policy := &PopupPolicy{
		PopupID:          popup.ID,
		Name:             popup.Name,
		RequiresApproval: popup.RequiresApproval,
		Currency:         popup.Currency,
		FormSchema:       popup.FormSchema,
		popup:            &popup,
		discount:         s.discount,
	}
	if popup.ApplicationFee.Valid {
		policy.ApplicationFee = popup.ApplicationFee.Decimal
	}
	if policy.Currency == "" {
		policy.Currency = s.defaultCurrency
	}

	return policy, nil
}

func (s *PolicyService) CreatePopup(ctx context.Context, req *CreatePopupRequest) (*models.Popup, error) {
	if req.ApplicationFee.IsNegative() {
		return nil, newError(KindValidation, "application fee cannot be negative")
	}

	popup := &models.Popup{
		Slug:             strings.ToLower(req.Slug),
		Name:             req.Name,
		RequiresApproval: req.RequiresApproval,
		Currency:         strings.ToLower(req.Currency),
		DiscountFields:   models.StringList(req.DiscountFields),
		FormSchema:       req.FormSchema,
		Active:           true,
	}
	if popup.Currency == "" {
		popup.Currency = s.defaultCurrency
	}
	if req.ApplicationFee.GreaterThan(decimal.Zero) {
		popup.ApplicationFee = decimal.NewNullDecimal(req.ApplicationFee)
	}

	if err := s.db.WithContext(ctx).Create(popup).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, newError(KindConflict, "a popup with this slug already exists")
		}
		return nil, infraError("failed to create popup", err)
	}

	return popup, nil
}

// SetApplicationFee is the only write path for the fee and refuses once applications exist.
func (s *PolicyService) SetApplicationFee(ctx context.Context, popupID uuid.UUID, fee decimal.Decimal, currency string) (*models.Popup, error) {
	if fee.IsNegative() {
		return nil, newError(KindValidation, "application fee cannot be negative")
	}

	var popup models.Popup
	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Clauses(lockForUpdate).First(&popup, "id = ?", popupID).Error; err != nil {
			return lookupError("popup", err)
		}

		var applications int64
		if err := tx.Model(&models.Application{}).Where("popup_id = ?", popupID).Count(&applications).Error; err != nil {
			return infraError("failed to count applications", err)
		}
		if applications > 0 {
			return newError(KindInvalidState, "the application fee cannot change once applications exist")
		}

		popup.ApplicationFee = decimal.NullDecimal{}
		if fee.GreaterThan(decimal.Zero) {
			popup.ApplicationFee = decimal.NewNullDecimal(fee)
		}
		if currency != "" {
			popup.Currency = strings.ToLower(currency)
		}

		if err := tx.Save(&popup).Error; err != nil {
			return infraError("failed to update popup", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &popup, nil
}

// FieldDiscountEvaluator treats any truthy answer in one of the popup's discount fields as a discount request.
type FieldDiscountEvaluator struct{}

func (FieldDiscountEvaluator) EvaluatesDiscount(popup *models.Popup, application *models.Application) bool {
	if popup == nil || application == nil {
		return false
	}
	for _, field := range popup.DiscountFields {
		if truthy(application.Data[field]) {
			return true
		}
	}
	return false
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(strings.ToLower(val))
		return s != "" && s != "false" && s != "no" && s != "0"
	case float64:
		return val != 0
	case int:
		return val != 0
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return true
	}
}
