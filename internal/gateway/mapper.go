package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/money"
)

var ErrUnknownAttribute = errors.New("unknown source attribute")

// FieldMap maps a source attribute to a dot-separated target path.
type FieldMap map[string]string

// CheckoutSubject is what the mapper projects into a gateway request.
type CheckoutSubject struct {
	Donation       *donationmodel.Donation
	ReturnURL      string
	CancelURL      string
	WebhookURL     string
	IdempotencyKey string
}

type accessor func(s CheckoutSubject) (any, error)

func str(f func(d *donationmodel.Donation) string) accessor {
	return func(s CheckoutSubject) (any, error) { return f(s.Donation), nil }
}

var accessors = map[string]accessor{
	"donor.email":         str(func(d *donationmodel.Donation) string { return d.DonorEmail }),
	"donor.first_name":    str(func(d *donationmodel.Donation) string { return d.DonorFirstName }),
	"donor.last_name":     str(func(d *donationmodel.Donation) string { return d.DonorLastName }),
	"donor.address_line1": str(func(d *donationmodel.Donation) string { return d.AddressLine1 }),
	"donor.address_line2": str(func(d *donationmodel.Donation) string { return d.AddressLine2 }),
	"donor.city":          str(func(d *donationmodel.Donation) string { return d.City }),
	"donor.state":         str(func(d *donationmodel.Donation) string { return d.State }),
	"donor.postal_code":   str(func(d *donationmodel.Donation) string { return d.PostalCode }),
	"donor.country":       str(func(d *donationmodel.Donation) string { return d.Country }),
	"donation.id": func(s CheckoutSubject) (any, error) {
		if s.Donation.ID == 0 {
			return "", nil
		}
		return strconv.FormatInt(s.Donation.ID, 10), nil
	},
	"donation.key": str(func(d *donationmodel.Donation) string { return d.DonationKey }),
	"amount":       str(func(d *donationmodel.Donation) string { return d.Amount.String() }),
	"amount_minor": func(s CheckoutSubject) (any, error) {
		return money.ToMinorUnits(s.Donation.Amount, s.Donation.Currency)
	},
	"currency": func(s CheckoutSubject) (any, error) {
		return money.Normalize(s.Donation.Currency)
	},
	"description": str(func(d *donationmodel.Donation) string { return d.Description }),
	"locale":      str(func(d *donationmodel.Donation) string { return d.Locale }),
	"mode":        str(func(d *donationmodel.Donation) string { return string(d.Mode) }),
	"return_url":  func(s CheckoutSubject) (any, error) { return s.ReturnURL, nil },
	"cancel_url":  func(s CheckoutSubject) (any, error) { return s.CancelURL, nil },
	"webhook_url": func(s CheckoutSubject) (any, error) { return s.WebhookURL, nil },
	"idempotency_key": func(s CheckoutSubject) (any, error) {
		return s.IdempotencyKey, nil
	},

	"recurring.interval":          str(func(d *donationmodel.Donation) string { return d.Interval() }),
	"recurring.plan_variation_id": str(func(d *donationmodel.Donation) string { return d.PlanVariationID }),
}

// DefaultFieldMap is used when an adapter supplies no map of its own.
var DefaultFieldMap = FieldMap{
	"donor.email":         "donor.email",
	"donor.first_name":    "donor.name.first",
	"donor.last_name":     "donor.name.last",
	"donor.address_line1": "donor.address.line1",
	"donor.address_line2": "donor.address.line2",
	"donor.city":          "donor.address.city",
	"donor.state":         "donor.address.state",
	"donor.postal_code":   "donor.address.postal_code",
	"donor.country":       "donor.address.country",
	"donation.id":         "donation.id",
	"donation.key":        "donation.key",
	"amount_minor":        "amount.value",
	"currency":            "amount.currency",
	"description":         "description",
	"locale":              "locale",
	"recurring.interval":  "recurring.interval",
	"return_url":          "urls.return",
	"cancel_url":          "urls.cancel",
	"webhook_url":         "urls.webhook",
}

// Map projects subject into a nested key map. Empty string values are left
// out so optional donor fields do not reach the gateway as blanks.
func Map(subject CheckoutSubject, fieldMap FieldMap) (map[string]any, error) {
	if subject.Donation == nil {
		return nil, errors.New("mapper: nil donation")
	}
	if fieldMap == nil {
		fieldMap = DefaultFieldMap
	}

	sources := make([]string, 0, len(fieldMap))
	for src := range fieldMap {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	out := make(map[string]any)
	for _, src := range sources {
		get, ok := accessors[src]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, src)
		}
		value, err := get(subject)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", src, err)
		}
		if s, isStr := value.(string); isStr && s == "" {
			continue
		}
		nested, err := Nest(fieldMap[src], value)
		if err != nil {
			return nil, err
		}
		if err := Merge(out, nested); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", src, err)
		}
	}
	return out, nil
}
