package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	stripego "github.com/stripe/stripe-go/v81"

	"github.com/frahmantamala/donation-gateway/internal/gateway"
)

// checkoutFieldMap targets Stripe's form-encoded Checkout Session params.
var checkoutFieldMap = gateway.FieldMap{
	"idempotency_key": "idempotency_key",
	"donation.key":    "client_reference_id",
	"donation.id":     "metadata.donation_id",
	"amount_minor":    "line_items.0.price_data.unit_amount",
	"currency":        "line_items.0.price_data.currency",
	"description":     "line_items.0.price_data.product_data.name",
	"donor.email":     "customer_email",
	"locale":          "locale",
	"return_url":      "success_url",
	"cancel_url":      "cancel_url",

	// Only set for recurring donations; it switches the session to
	// subscription mode.
	"recurring.interval": "line_items.0.price_data.recurring.interval",
}

func (a *Adapter) FieldMap() gateway.FieldMap {
	return checkoutFieldMap
}

// CreateCheckout creates a hosted Checkout Session. A recurring price puts
// it in subscription mode, where the donation key travels on the
// subscription's metadata so later invoices and lifecycle events link back.
func (a *Adapter) CreateCheckout(ctx context.Context, payload map[string]any) (*gateway.Response, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx

	if key, ok := payload["idempotency_key"].(string); ok {
		params.SetIdempotencyKey(key)
	}

	form := flatten(payload, "")
	delete(form, "idempotency_key")
	_, recurring := form["line_items[0][price_data][recurring][interval]"]
	form["mode"] = "payment"
	if recurring {
		form["mode"] = "subscription"
	}
	form["line_items[0][quantity]"] = "1"
	if _, ok := form["line_items[0][price_data][product_data][name]"]; !ok {
		form["line_items[0][price_data][product_data][name]"] = "Donation"
	}
	if cur, ok := form["line_items[0][price_data][currency]"]; ok {
		form["line_items[0][price_data][currency]"] = strings.ToLower(cur)
	}
	if loc, ok := form["locale"]; ok {
		form["locale"] = stripeLocale(loc)
	}
	if key, ok := form["client_reference_id"]; ok {
		form["metadata[donation_key]"] = key
		if recurring {
			form["subscription_data[metadata][donation_key]"] = key
		} else {
			form["payment_intent_data[metadata][donation_key]"] = key
		}
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.AddExtra(k, form[k])
	}

	sess, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify(err)
	}

	raw := []byte(nil)
	if sess.LastResponse != nil {
		raw = sess.LastResponse.RawJSON
	}
	if len(raw) == 0 {
		if raw, err = json.Marshal(sess); err != nil {
			return nil, fmt.Errorf("stripe: encode session: %w", err)
		}
	}

	resp, err := gateway.DecodeResponse(gateway.ObjectCheckout, raw, schemas[gateway.ObjectCheckout])
	if err != nil {
		return nil, err
	}
	a.logger.Info("stripe checkout session created", "session_id", sess.ID)
	return resp, nil
}

func classify(err error) error {
	var serr *stripego.Error
	if errors.As(err, &serr) {
		if statusErr := gateway.HTTPStatusError(serr.HTTPStatusCode); statusErr != nil {
			return fmt.Errorf("%w: stripe %s: %s", statusErr, serr.Code, serr.Msg)
		}
		return fmt.Errorf("%w: stripe: %v", gateway.ErrGatewayUnreachable, err)
	}
	return fmt.Errorf("%w: %v", gateway.ErrGatewayUnreachable, err)
}

// flatten renders nested maps as Stripe form keys: a[b][0][c].
func flatten(v map[string]any, prefix string) map[string]string {
	out := make(map[string]string)
	for k, child := range v {
		key := k
		if prefix != "" {
			key = prefix + "[" + k + "]"
		}
		switch t := child.(type) {
		case map[string]any:
			for fk, fv := range flatten(t, key) {
				out[fk] = fv
			}
		case string:
			out[key] = t
		case int64:
			out[key] = strconv.FormatInt(t, 10)
		default:
			out[key] = fmt.Sprint(t)
		}
	}
	return out
}

func stripeLocale(locale string) string {
	l := strings.ToLower(locale)
	if i := strings.IndexAny(l, "_-"); i > 0 {
		l = l[:i]
	}
	return l
}
