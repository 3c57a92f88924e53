package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/donation-gateway/internal/capability"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/transport"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

type fakeGate struct {
	ok     bool
	reason string
}

func (g *fakeGate) Status() (bool, string) { return g.ok, g.reason }

type fakeAdapter struct{ name string }

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Verify([]byte, http.Header) error { return nil }

func (a *fakeAdapter) SignatureHeader() string { return "x-signature" }

func (a *fakeAdapter) ParseEnvelope([]byte) (*gateway.Envelope, error) {
	return &gateway.Envelope{}, nil
}

func (a *fakeAdapter) Classify(*gateway.Envelope) (*gateway.Notification, error) {
	return &gateway.Notification{Kind: gateway.KindIgnored}, nil
}

func (a *fakeAdapter) FieldMap() gateway.FieldMap { return nil }

func (a *fakeAdapter) CreateCheckout(context.Context, map[string]any) (*gateway.Response, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) TransactionLink(id string, sandbox bool) string {
	if sandbox {
		return "https://sandbox.example/" + id
	}
	return "https://live.example/" + id
}

var _ = Describe("Gateway registry", func() {
	var (
		registry *gateway.Registry
		gate     *fakeGate
		built    int
	)

	BeforeEach(func() {
		registry = gateway.NewRegistry(logger.Discard())
		gate = &fakeGate{ok: false, reason: "runtime 1.20.0 does not satisfy >= 1.21"}
		built = 0
		registry.Register(gateway.Registration{
			Name:  "square",
			Title: "Square",
			Gate:  gate,
			Factory: func() (gateway.Adapter, error) {
				built++
				return &fakeAdapter{name: "square"}, nil
			},
		})
		registry.Register(gateway.Registration{
			Name:  "stripe",
			Title: "Stripe",
			Factory: func() (gateway.Adapter, error) {
				return &fakeAdapter{name: "stripe"}, nil
			},
		})
	})

	It("drops incompatible gateways from the offerable list without loading them", func() {
		Expect(registry.Offerable()).To(Equal([]gateway.Offer{{Name: "stripe", Title: "Stripe"}}))
		_, err := registry.Get("square")
		Expect(err).To(MatchError(gateway.ErrGatewayUnavailable))
		Expect(built).To(BeZero())

		caps := registry.Capabilities()
		Expect(caps["square"].Compatible).To(BeFalse())
		Expect(caps["square"].Reason).To(ContainSubstring("1.20.0"))
		Expect(caps["square"].Loaded).To(BeFalse())
	})

	It("loads the adapter once the gate recovers", func() {
		gate.ok, gate.reason = true, ""
		a, err := registry.Get("square")
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Name()).To(Equal("square"))
		_, err = registry.Get("square")
		Expect(err).NotTo(HaveOccurred())
		Expect(built).To(Equal(1))
	})

	It("reports unknown gateways", func() {
		_, err := registry.Get("paypal")
		Expect(err).To(MatchError(gateway.ErrUnknownGateway))
	})

	It("applies filters", func() {
		gate.ok = true
		registry.AddFilter(func(offers []gateway.Offer) []gateway.Offer {
			out := offers[:0]
			for _, o := range offers {
				if o.Name != "stripe" {
					out = append(out, o)
				}
			}
			return out
		})
		Expect(registry.Offerable()).To(Equal([]gateway.Offer{{Name: "square", Title: "Square"}}))
	})

	It("builds transaction links through the adapter", func() {
		Expect(registry.TransactionLink("stripe", "pi_1", true)).To(Equal("https://sandbox.example/pi_1"))
		Expect(registry.TransactionLink("square", "ord_1", true)).To(BeEmpty())
	})

	It("lists offerable gateways with gate reasons", func() {
		h := gateway.NewHandler(transport.NewBaseHandler(logger.Discard()), registry)
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/gateways", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))

		var resp gateway.CatalogResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Offerable).To(Equal([]gateway.Offer{{Name: "stripe", Title: "Stripe"}}))
		Expect(resp.Capabilities["square"].Compatible).To(BeFalse())
		Expect(resp.Capabilities["square"].Reason).To(ContainSubstring("does not satisfy"))
		Expect(built).To(BeZero())
	})

	It("shows the notices of a failing runtime gate in the catalog", func() {
		at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		runtimeGate, err := capability.New("legacy", ">= 1.21.0",
			func() (string, error) { return "1.19.0", nil }, logger.Discard(),
			capability.WithClock(func() time.Time { return at }))
		Expect(err).NotTo(HaveOccurred())
		registry.Register(gateway.Registration{
			Name:    "legacy",
			Gate:    runtimeGate,
			Factory: func() (gateway.Adapter, error) { return &fakeAdapter{name: "legacy"}, nil },
		})

		h := gateway.NewHandler(transport.NewBaseHandler(logger.Discard()), registry)
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/gateways", nil))

		var resp gateway.CatalogResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		legacy := resp.Capabilities["legacy"]
		Expect(legacy.Compatible).To(BeFalse())
		Expect(legacy.Notices).To(HaveLen(1))
		Expect(legacy.Notices[0].Reason).To(ContainSubstring("1.19.0"))
		Expect(resp.Capabilities["square"].Notices).To(BeEmpty())
	})
})
