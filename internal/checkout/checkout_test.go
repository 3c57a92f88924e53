package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/donation-gateway/internal/checkout"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel"
	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/core/events"
	"github.com/frahmantamala/donation-gateway/internal/donation"
	donationpg "github.com/frahmantamala/donation-gateway/internal/donation/postgres"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
	reconcilepg "github.com/frahmantamala/donation-gateway/internal/reconcile/postgres"
	"github.com/frahmantamala/donation-gateway/internal/transport"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

var checkoutSchema = gateway.Schema{
	TransactionID: []string{"id"},
	DonationKey:   []string{"reference_id"},
	CheckoutURL:   []string{"url"},
	Status:        []string{"status"},
	Statuses: map[string]gateway.Status{
		"OPEN":     gateway.StatusPending,
		"COMPLETE": gateway.StatusCompleted,
	},
	SandboxMarker: "pay.fake.test",
}

// scriptedAdapter answers CreateCheckout from a list of canned errors,
// succeeding once the list is exhausted.
type scriptedAdapter struct {
	mu       sync.Mutex
	failures []error
	calls    int
	payloads []map[string]any
	before   func(key string)
}

func (a *scriptedAdapter) Name() string                        { return "fake" }
func (a *scriptedAdapter) SignatureHeader() string             { return "X-Fake-Signature" }
func (a *scriptedAdapter) Verify([]byte, http.Header) error    { return nil }
func (a *scriptedAdapter) FieldMap() gateway.FieldMap          { return gateway.DefaultFieldMap }
func (a *scriptedAdapter) TransactionLink(string, bool) string { return "" }
func (a *scriptedAdapter) ParseEnvelope([]byte) (*gateway.Envelope, error) {
	return nil, gateway.ErrMalformedPayload
}
func (a *scriptedAdapter) Classify(*gateway.Envelope) (*gateway.Notification, error) {
	return nil, gateway.ErrMalformedPayload
}

func (a *scriptedAdapter) CreateCheckout(_ context.Context, payload map[string]any) (*gateway.Response, error) {
	a.mu.Lock()
	a.calls++
	a.payloads = append(a.payloads, payload)
	var err error
	if len(a.failures) > 0 {
		err, a.failures = a.failures[0], a.failures[1:]
	}
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	donationPart, _ := payload["donation"].(map[string]any)
	key, _ := donationPart["key"].(string)
	if a.before != nil {
		a.before(key)
	}
	return gateway.NewResponse(gateway.ObjectCheckout, map[string]any{
		"id":           "chk-" + key,
		"reference_id": key,
		"url":          "https://pay.fake.test/c/" + key,
		"status":       "OPEN",
	}, checkoutSchema), nil
}

var _ = Describe("Checkout", func() {
	var (
		ctx       context.Context
		donations *donationpg.DonationRepository
		adapter   *scriptedAdapter
		engine    *reconcile.Engine
		service   *checkout.Service
	)

	validDTO := func() donation.CreateDonationDTO {
		return donation.CreateDonationDTO{
			Gateway:  "fake",
			Amount:   decimal.RequireFromString("25.00"),
			Currency: "usd",
			Donor:    donation.DonorDTO{Email: "donor@example.org", FirstName: "Ada"},
			Allocations: []donation.AllocationDTO{
				{CampaignID: 1, Amount: decimal.RequireFromString("25.00")},
			},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(datamodel.Models()...)).To(Succeed())

		donations = donationpg.NewDonationRepository(db)
		adapter = &scriptedAdapter{}
		registry := gateway.NewRegistry(logger.Discard())
		registry.Register(gateway.Registration{
			Name:    "fake",
			Factory: func() (gateway.Adapter, error) { return adapter, nil },
		})

		engine = reconcile.NewEngine(reconcilepg.NewUnitOfWork(db), events.NewEventBus(logger.Discard()), logger.Discard())
		donationSvc := donation.NewService(donations, registry, nil, logger.Discard())
		service = checkout.NewService(registry, donationSvc, donations, engine, checkout.Config{
			Timeout:    time.Second,
			RetryDelay: time.Millisecond,
			ReceiptURL: "https://give.example.org/receipt",
			ReturnURL:  "https://give.example.org/return",
			CancelURL:  "https://give.example.org/cancel",
			BaseURL:    "https://api.example.org/",
		}, logger.Discard())
	})

	reload := func(id int64) *donationmodel.Donation {
		d, err := donations.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	It("opens a hosted checkout and records the transaction id", func() {
		res, err := service.Start(ctx, validDTO())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(checkout.StatusPending))
		Expect(res.RedirectURL).To(Equal("https://pay.fake.test/c/" + res.DonationKey))

		d := reload(res.DonationID)
		Expect(d.Status).To(Equal(donationmodel.StatusAwaitingGateway))
		Expect(d.TransactionID()).To(Equal("chk-" + res.DonationKey))
		Expect(d.Mode).To(Equal(donationmodel.ModeSandbox))

		Expect(adapter.payloads).To(HaveLen(1))
		urls := adapter.payloads[0]["urls"].(map[string]any)
		Expect(urls["webhook"]).To(Equal("https://api.example.org/api/v1/webhooks/fake"))
		Expect(adapter.payloads[0]["amount"].(map[string]any)["value"]).To(Equal(int64(2500)))
	})

	It("flags a sandbox checkout opened for a gateway configured live", func() {
		var logs bytes.Buffer
		registry := gateway.NewRegistry(logger.Discard())
		registry.Register(gateway.Registration{
			Name:    "fake",
			Factory: func() (gateway.Adapter, error) { return adapter, nil },
		})
		live := checkout.NewService(registry, donation.NewService(donations, registry, nil, logger.Discard()), donations, engine, checkout.Config{
			Timeout:    time.Second,
			RetryDelay: time.Millisecond,
			Modes:      map[string]donationmodel.Mode{"fake": donationmodel.ModeLive},
		}, slog.New(slog.NewJSONHandler(&logs, nil)))

		res, err := live.Start(ctx, validDTO())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Sandbox).To(BeTrue())
		Expect(reload(res.DonationID).Mode).To(Equal(donationmodel.ModeLive))
		Expect(logs.String()).To(ContainSubstring("gateway checkout environment differs from configured mode"))

		res, err = service.Start(ctx, validDTO())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Sandbox).To(BeTrue())
	})

	It("retries once on a transient failure with the same request", func() {
		adapter.failures = []error{gateway.ErrGatewayUnreachable}

		res, err := service.Start(ctx, validDTO())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(checkout.StatusPending))
		Expect(adapter.calls).To(Equal(2))
		Expect(adapter.payloads[0]).To(Equal(adapter.payloads[1]))
	})

	It("gives up after the single retry", func() {
		adapter.failures = []error{gateway.ErrGatewayUnreachable, gateway.ErrGatewayUnreachable, gateway.ErrGatewayUnreachable}

		res, err := service.Start(ctx, validDTO())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(checkout.StatusFailed))
		Expect(adapter.calls).To(Equal(2))
		Expect(reload(res.DonationID).Status).To(Equal(donationmodel.StatusFailed))
	})

	It("never retries a rejected request", func() {
		adapter.failures = []error{gateway.ErrGatewayRejected}

		res, err := service.Start(ctx, validDTO())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(checkout.StatusFailed))
		Expect(res.RedirectURL).To(BeEmpty())
		Expect(adapter.calls).To(Equal(1))
	})

	It("reports completion when the webhook beat the checkout response", func() {
		adapter.before = func(key string) {
			_, err := engine.Apply(ctx, reconcile.NormalizedEvent{
				Gateway:     "fake",
				EventType:   "payment.updated",
				Kind:        gateway.KindPaymentCompleted,
				DeliveryID:  "evt-early",
				PaymentID:   "pay-1",
				DonationKey: key,
			})
			Expect(err).NotTo(HaveOccurred())
		}

		res, err := service.Start(ctx, validDTO())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(checkout.StatusCompleted))
		Expect(res.RedirectURL).To(HavePrefix("https://give.example.org/receipt?donation_id="))
		Expect(reload(res.DonationID).Status).To(Equal(donationmodel.StatusCompleted))
	})

	It("rejects unknown gateways before creating anything", func() {
		dto := validDTO()
		dto.Gateway = "nope"
		_, err := service.Start(ctx, dto)
		Expect(err).To(HaveOccurred())
		Expect(adapter.calls).To(BeZero())
	})

	Describe("Handler", func() {
		post := func(body []byte) *httptest.ResponseRecorder {
			h := checkout.NewHandler(transport.NewBaseHandler(logger.Discard()), service)
			rec := httptest.NewRecorder()
			h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body)))
			return rec
		}

		It("returns the donor-facing status and redirect", func() {
			body, err := json.Marshal(validDTO())
			Expect(err).NotTo(HaveOccurred())

			rec := post(body)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			var resp checkout.Response
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal(checkout.StatusPending))
			Expect(resp.RedirectURL).To(HavePrefix("https://pay.fake.test/c/"))
		})

		It("rejects an allocation total that does not match", func() {
			dto := validDTO()
			dto.Allocations[0].Amount = decimal.RequireFromString("20.00")
			body, err := json.Marshal(dto)
			Expect(err).NotTo(HaveOccurred())

			Expect(post(body).Code).To(Equal(http.StatusBadRequest))
			Expect(adapter.calls).To(BeZero())
		})

		It("rejects malformed JSON", func() {
			Expect(post([]byte(`{`)).Code).To(Equal(http.StatusBadRequest))
		})
	})
})
