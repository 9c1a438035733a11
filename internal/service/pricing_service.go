package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type promoReader interface {
	FindPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
}

// Quote is the outcome of pricing an enrollment.
type Quote struct {
	ListPriceCents  int64   `json:"list_price_cents"`
	FinalPriceCents int64   `json:"final_price_cents"`
	Currency        string  `json:"currency"`
	PromoCode       *string `json:"promo_code,omitempty"`
	DiscountPercent int     `json:"discount_percent"`
}

// PricingService resolves the price a student pays for a course, applying
// promo codes when valid.
type PricingService struct {
	promos promoReader
	logger *zap.Logger
}

// NewPricingService constructs PricingService.
func NewPricingService(promos promoReader, logger *zap.Logger) *PricingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PricingService{promos: promos, logger: logger}
}

// Price computes the final price for a course. An unknown, inactive or
// expired promo code fails the whole quote rather than silently charging
// full price.
func (s *PricingService) Price(ctx context.Context, course *models.Course, promoCode string) (*Quote, error) {
	quote := &Quote{
		ListPriceCents:  course.PriceCents,
		FinalPriceCents: course.PriceCents,
		Currency:        course.Currency,
	}
	if promoCode == "" {
		return quote, nil
	}

	promo, err := s.promos.FindPromoCode(ctx, promoCode)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrGuardFailed, "promo code not recognized")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load promo code")
	}
	if !promo.Active {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "promo code no longer active")
	}
	if promo.ExpiresAt != nil && promo.ExpiresAt.Before(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "promo code expired")
	}
	if promo.DiscountPercent < 0 || promo.DiscountPercent > 100 {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "promo code discount out of range")
	}

	discounted := course.PriceCents - course.PriceCents*int64(promo.DiscountPercent)/100
	quote.FinalPriceCents = discounted
	quote.PromoCode = &promo.Code
	quote.DiscountPercent = promo.DiscountPercent
	s.logger.Debug("promo applied",
		zap.String("code", promo.Code),
		zap.Int("discount_percent", promo.DiscountPercent))
	return quote, nil
}
