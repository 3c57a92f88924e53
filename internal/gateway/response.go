package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/frahmantamala/donation-gateway/internal/money"
)

type ObjectKind string

const (
	ObjectCheckout     ObjectKind = "checkout"
	ObjectPayment      ObjectKind = "payment"
	ObjectSubscription ObjectKind = "subscription"
	ObjectRefund       ObjectKind = "refund"
	ObjectDispute      ObjectKind = "dispute"
	ObjectInvoice      ObjectKind = "invoice"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusRequiresAction Status = "requires_action"
)

// Schema tells a Response where each value lives in one object kind.
// Every field lists candidate dot paths; the first one present wins.
type Schema struct {
	TransactionID   []string
	PaymentID       []string
	SubscriptionID  []string
	PlanVariationID []string
	DonationKey     []string
	CustomerID      []string
	RenewalSequence []string
	AmountMinor     []string
	Currency        []string
	Status          []string
	CheckoutURL     []string
	// Statuses maps upper-cased gateway status strings. Anything missing
	// normalizes to pending.
	Statuses      map[string]Status
	SandboxMarker string
}

// Response is the only view the rest of the service has of a gateway object.
type Response struct {
	kind       ObjectKind
	object     map[string]any
	schema     Schema
	receiptURL string
}

func NewResponse(kind ObjectKind, object map[string]any, schema Schema) *Response {
	if object == nil {
		object = map[string]any{}
	}
	return &Response{kind: kind, object: object, schema: schema}
}

// DecodeResponse decodes raw JSON keeping numbers exact.
func DecodeResponse(kind ObjectKind, raw []byte, schema Schema) (*Response, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return NewResponse(kind, obj, schema), nil
}

// WithReceiptURL sets the platform receipt page used by RedirectTarget.
func (r *Response) WithReceiptURL(u string) *Response {
	r.receiptURL = u
	return r
}

func (r *Response) Kind() ObjectKind {
	return r.kind
}

// Value returns the string at path, for adapter-specific fields.
func (r *Response) Value(path string) (string, bool) {
	return r.first([]string{path})
}

func (r *Response) first(paths []string) (string, bool) {
	for _, p := range paths {
		v, ok := Lookup(r.object, p)
		if !ok {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(t)
		default:
			continue
		}
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func (r *Response) TransactionID() (string, bool)   { return r.first(r.schema.TransactionID) }
func (r *Response) PaymentID() (string, bool)       { return r.first(r.schema.PaymentID) }
func (r *Response) SubscriptionID() (string, bool)  { return r.first(r.schema.SubscriptionID) }
func (r *Response) PlanVariationID() (string, bool) { return r.first(r.schema.PlanVariationID) }
func (r *Response) DonationKey() (string, bool)     { return r.first(r.schema.DonationKey) }
func (r *Response) CustomerID() (string, bool)      { return r.first(r.schema.CustomerID) }
func (r *Response) CheckoutURL() (string, bool)     { return r.first(r.schema.CheckoutURL) }

func (r *Response) RawStatus() (string, bool) {
	return r.first(r.schema.Status)
}

func (r *Response) RenewalSequence() (int64, bool) {
	s, ok := r.first(r.schema.RenewalSequence)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Amount returns the minor-unit amount and currency when both are present.
func (r *Response) Amount() (money.Amount, bool) {
	s, ok := r.first(r.schema.AmountMinor)
	if !ok {
		return money.Amount{}, false
	}
	minor, err := strconv.ParseInt(s, 10, 64)
	if err != nil || minor < 0 {
		return money.Amount{}, false
	}
	cur, ok := r.first(r.schema.Currency)
	if !ok {
		return money.Amount{}, false
	}
	code, err := money.Normalize(cur)
	if err != nil {
		return money.Amount{}, false
	}
	return money.Amount{Minor: minor, Currency: code}, true
}

func (r *Response) Status() Status {
	raw, ok := r.RawStatus()
	if !ok {
		return StatusPending
	}
	if st, ok := r.schema.Statuses[strings.ToUpper(raw)]; ok {
		return st
	}
	return StatusPending
}

func (r *Response) IsCompleted() bool    { return r.Status() == StatusCompleted }
func (r *Response) IsFailed() bool       { return r.Status() == StatusFailed }
func (r *Response) IsCancelled() bool    { return r.Status() == StatusCancelled }
func (r *Response) RequiresAction() bool { return r.Status() == StatusRequiresAction }

// RequiresRedirect reports whether the donor still has to visit the
// gateway-hosted page.
func (r *Response) RequiresRedirect() bool {
	if _, ok := r.CheckoutURL(); !ok {
		return false
	}
	st := r.Status()
	return st == StatusPending || st == StatusRequiresAction
}

// RedirectTarget returns the receipt page when a donation id is known, else
// the hosted checkout URL.
func (r *Response) RedirectTarget(donationID string) string {
	if donationID != "" && r.receiptURL != "" {
		u, err := url.Parse(r.receiptURL)
		if err == nil {
			q := u.Query()
			q.Set("donation_id", donationID)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	checkout, _ := r.CheckoutURL()
	return checkout
}

// SandboxKnown reports whether the gateway marks test-environment
// checkouts at all.
func (r *Response) SandboxKnown() bool {
	return r.schema.SandboxMarker != ""
}

// IsSandbox reports whether the checkout URL points at the gateway's test
// environment.
func (r *Response) IsSandbox() bool {
	if r.schema.SandboxMarker == "" {
		return false
	}
	checkout, ok := r.CheckoutURL()
	return ok && strings.Contains(checkout, r.schema.SandboxMarker)
}

// JSON re-encodes the wrapped object.
func (r *Response) JSON() []byte {
	b, _ := json.Marshal(r.object)
	return b
}
