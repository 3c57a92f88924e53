package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/frahmantamala/donation-gateway/internal/gateway"
)

// checkoutFieldMap shapes a Square CreatePaymentLink request.
var checkoutFieldMap = gateway.FieldMap{
	"idempotency_key":             "idempotency_key",
	"donation.key":                "payment_note",
	"description":                 "order.line_items.0.name",
	"amount_minor":                "order.line_items.0.base_price_money.amount",
	"currency":                    "order.line_items.0.base_price_money.currency",
	"donor.email":                 "pre_populated_data.buyer_email",
	"donor.first_name":            "pre_populated_data.buyer_address.first_name",
	"donor.last_name":             "pre_populated_data.buyer_address.last_name",
	"donor.address_line1":         "pre_populated_data.buyer_address.address_line_1",
	"donor.address_line2":         "pre_populated_data.buyer_address.address_line_2",
	"donor.city":                  "pre_populated_data.buyer_address.locality",
	"donor.state":                 "pre_populated_data.buyer_address.administrative_district_level_1",
	"donor.postal_code":           "pre_populated_data.buyer_address.postal_code",
	"donor.country":               "pre_populated_data.buyer_address.country",
	"return_url":                  "checkout_options.redirect_url",
	"recurring.plan_variation_id": "checkout_options.subscription_plan_id",
}

func (a *Adapter) FieldMap() gateway.FieldMap {
	return checkoutFieldMap
}

type apiError struct {
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

func (e apiError) String() string {
	parts := make([]string, 0, len(e.Errors))
	for _, er := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", er.Category, er.Code, er.Detail))
	}
	return strings.Join(parts, "; ")
}

// do sends one JSON request and decodes the response into out. Transport
// errors and 5xx map to ErrGatewayUnreachable; other 4xx to ErrGatewayRejected.
func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("square: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("square: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	req.Header.Set("Square-Version", a.cfg.APIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", gateway.ErrGatewayUnreachable, err)
	}

	if statusErr := gateway.HTTPStatusError(resp.StatusCode); statusErr != nil {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		a.logger.Warn("square api error",
			"path", path,
			"status_code", resp.StatusCode,
			"errors", apiErr.String())
		return fmt.Errorf("%w: square %s returned %d: %s", statusErr, path, resp.StatusCode, apiErr.String())
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: square response: %v", gateway.ErrMalformedPayload, err)
	}
	return nil
}

// CreateCheckout creates a payment link and returns its normalized view.
// With a subscription plan the buyer is enrolled on payment; Square then
// reports the subscription against the buyer's customer id only.
func (a *Adapter) CreateCheckout(ctx context.Context, payload map[string]any) (*gateway.Response, error) {
	body := gateway.Listify(payload).(map[string]any)
	if _, ok := body["idempotency_key"]; !ok {
		body["idempotency_key"] = uuid.NewString()
	}

	order, _ := body["order"].(map[string]any)
	if order == nil {
		return nil, errors.New("square: checkout payload has no order")
	}
	order["location_id"] = a.cfg.LocationID
	if items, ok := order["line_items"].([]any); ok {
		for _, it := range items {
			if item, ok := it.(map[string]any); ok {
				item["quantity"] = "1"
				if _, named := item["name"]; !named {
					item["name"] = "Donation"
				}
			}
		}
	}
	if note, ok := body["payment_note"].(string); ok {
		order["reference_id"] = note
	}

	var out struct {
		PaymentLink json.RawMessage `json:"payment_link"`
	}
	if err := a.do(ctx, http.MethodPost, "/v2/online-checkout/payment-links", body, &out); err != nil {
		return nil, err
	}
	if len(out.PaymentLink) == 0 {
		return nil, fmt.Errorf("%w: square response has no payment_link", gateway.ErrMalformedPayload)
	}

	resp, err := gateway.DecodeResponse(gateway.ObjectCheckout, out.PaymentLink, schemas[gateway.ObjectCheckout])
	if err != nil {
		return nil, err
	}
	link, _ := resp.Value("id")
	a.logger.Info("square payment link created", "payment_link_id", link)
	return resp, nil
}

// WebhookEvents are the event types the reconciler consumes.
var WebhookEvents = []string{
	"payment.created",
	"payment.updated",
	"refund.created",
	"refund.updated",
	"dispute.created",
	"subscription.created",
	"subscription.updated",
	"invoice.payment_made",
}

// RegisterWebhook creates a webhook subscription pointing at the configured
// notification URL and returns its id. Transient failures are retried.
func (a *Adapter) RegisterWebhook(ctx context.Context, name string) (string, error) {
	body := map[string]any{
		"idempotency_key": uuid.NewString(),
		"subscription": map[string]any{
			"name":             name,
			"event_types":      WebhookEvents,
			"notification_url": a.cfg.NotificationURL,
			"api_version":      a.cfg.APIVersion,
		},
	}

	var out struct {
		Subscription struct {
			ID string `json:"id"`
		} `json:"subscription"`
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := a.do(ctx, http.MethodPost, "/v2/webhooks/subscriptions", body, &out)
		if gateway.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	if out.Subscription.ID == "" {
		return "", fmt.Errorf("%w: square webhook subscription has no id", gateway.ErrMalformedPayload)
	}
	return out.Subscription.ID, nil
}
