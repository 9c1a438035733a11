package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/pkg/config"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

// Gateway verifies payment evidence with an external processor. Each
// implementation covers one payment method.
type Gateway interface {
	Method() models.PaymentMethod
	// Verify checks the supplied reference against the processor and
	// returns the settled transaction id. Implementations return
	// ErrGuardFailed for evidence that does not match the payment and
	// ErrExternalService when the processor cannot be reached.
	Verify(ctx context.Context, payment *models.Payment, reference string) (string, error)
}

// PayPalGateway verifies captured PayPal orders through the REST API.
type PayPalGateway struct {
	apiBase  string
	clientID string
	secret   string
	client   *http.Client
	logger   *zap.Logger
}

// NewPayPalGateway constructs a PayPalGateway from configuration.
func NewPayPalGateway(cfg config.PaymentsConfig, logger *zap.Logger) *PayPalGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayPalGateway{
		apiBase:  strings.TrimRight(cfg.PayPalAPIBase, "/"),
		clientID: cfg.PayPalClientID,
		secret:   cfg.PayPalSecret,
		client:   &http.Client{Timeout: cfg.ConfirmTimeout},
		logger:   logger,
	}
}

// Method implements Gateway.
func (g *PayPalGateway) Method() models.PaymentMethod {
	return models.PaymentMethodPayPal
}

// Verify fetches the order, requires a completed capture and matching
// amount, and returns the capture id.
func (g *PayPalGateway) Verify(ctx context.Context, payment *models.Payment, orderID string) (string, error) {
	if orderID == "" {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "paypal order id is required")
	}
	token, err := g.accessToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/v2/checkout/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build paypal request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "paypal unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "paypal order not found")
	}
	if resp.StatusCode != http.StatusOK {
		return "", appErrors.Clone(appErrors.ErrExternalService, fmt.Sprintf("paypal returned status %d", resp.StatusCode))
	}

	var order struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "invalid paypal response")
	}
	if order.Status != "COMPLETED" || len(order.PurchaseUnits) == 0 {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "paypal order is not completed")
	}

	unit := order.PurchaseUnits[0]
	if !strings.EqualFold(unit.Amount.CurrencyCode, payment.Currency) {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "paypal currency mismatch")
	}
	paid, err := strconv.ParseFloat(unit.Amount.Value, 64)
	if err != nil || int64(paid*100+0.5) != payment.AmountCents {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "paypal amount mismatch")
	}

	for _, capture := range unit.Payments.Captures {
		if capture.Status == "COMPLETED" {
			return capture.ID, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrGuardFailed, "paypal capture not completed")
}

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	body := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/v1/oauth2/token", body)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build paypal token request")
	}
	req.SetBasicAuth(g.clientID, g.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "paypal unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", appErrors.Clone(appErrors.ErrExternalService, fmt.Sprintf("paypal token endpoint returned status %d", resp.StatusCode))
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil || token.AccessToken == "" {
		return "", appErrors.Clone(appErrors.ErrExternalService, "invalid paypal token response")
	}
	return token.AccessToken, nil
}

// StripeGateway verifies payment intents through the Stripe REST API.
type StripeGateway struct {
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

// NewStripeGateway constructs a StripeGateway from configuration.
func NewStripeGateway(cfg config.PaymentsConfig, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{
		secretKey: cfg.StripeSecretKey,
		client:    &http.Client{Timeout: cfg.ConfirmTimeout},
		logger:    logger,
	}
}

// Method implements Gateway.
func (g *StripeGateway) Method() models.PaymentMethod {
	return models.PaymentMethodStripe
}

// Verify requires a succeeded payment intent with a matching amount.
func (g *StripeGateway) Verify(ctx context.Context, payment *models.Payment, intentID string) (string, error) {
	if intentID == "" {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "stripe payment intent id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.stripe.com/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build stripe request")
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "stripe unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "stripe payment intent not found")
	}
	if resp.StatusCode != http.StatusOK {
		return "", appErrors.Clone(appErrors.ErrExternalService, fmt.Sprintf("stripe returned status %d", resp.StatusCode))
	}

	var intent struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "invalid stripe response")
	}
	if intent.Status != "succeeded" {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "stripe payment not succeeded")
	}
	if intent.Amount != payment.AmountCents || !strings.EqualFold(intent.Currency, payment.Currency) {
		return "", appErrors.Clone(appErrors.ErrGuardFailed, "stripe amount mismatch")
	}
	return intent.ID, nil
}

// BankTransferGateway accepts Rahgiri bank transfer receipt references.
// There is no online API to verify against; the reference is format-checked
// here and settlement waits for staff review.
type BankTransferGateway struct {
	minLength int
}

// NewBankTransferGateway constructs a BankTransferGateway.
func NewBankTransferGateway(cfg config.PaymentsConfig) *BankTransferGateway {
	minLength := cfg.RahgiriMinLength
	if minLength <= 0 {
		minLength = 10
	}
	return &BankTransferGateway{minLength: minLength}
}

// Method implements Gateway.
func (g *BankTransferGateway) Method() models.PaymentMethod {
	return models.PaymentMethodBankTransfer
}

// Verify checks the receipt reference format and returns it unchanged.
func (g *BankTransferGateway) Verify(_ context.Context, _ *models.Payment, reference string) (string, error) {
	trimmed := strings.TrimSpace(reference)
	if len(trimmed) < g.minLength {
		return "", appErrors.Clone(appErrors.ErrGuardFailed,
			fmt.Sprintf("bank transfer reference must be at least %d characters", g.minLength))
	}
	return trimmed, nil
}
