package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/donation-gateway/internal/core/datamodel"
	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/idempotency"
	"github.com/frahmantamala/donation-gateway/internal/core/events"
	donationpg "github.com/frahmantamala/donation-gateway/internal/donation/postgres"
	"github.com/frahmantamala/donation-gateway/internal/gateway"
	"github.com/frahmantamala/donation-gateway/internal/reconcile"
	reconcilepg "github.com/frahmantamala/donation-gateway/internal/reconcile/postgres"
	"github.com/frahmantamala/donation-gateway/internal/transport"
	"github.com/frahmantamala/donation-gateway/internal/webhook"
	"github.com/frahmantamala/donation-gateway/internal/webhook/postgres"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

var _ = Describe("Webhook intake", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		donations *donationpg.DonationRepository
		eventRepo *postgres.GatewayEventRepository
		retries   *postgres.RetryRepository
		registry  *gateway.Registry
		ingestor  *webhook.Ingestor
		processor *webhook.Processor
		router    chi.Router
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(datamodel.Models()...)).To(Succeed())

		donations = donationpg.NewDonationRepository(db)
		eventRepo = postgres.NewGatewayEventRepository(db)
		retries = postgres.NewRetryRepository(db)

		registry = gateway.NewRegistry(logger.Discard())
		registry.Register(gateway.Registration{
			Name:    "fake",
			Title:   "Fake",
			Factory: func() (gateway.Adapter, error) { return fakeAdapter{}, nil },
		})
		registry.Register(gateway.Registration{
			Name:    "dormant",
			Gate:    closedGate{},
			Factory: func() (gateway.Adapter, error) { return fakeAdapter{}, nil },
		})

		bus := events.NewEventBus(logger.Discard())
		engine := reconcile.NewEngine(reconcilepg.NewUnitOfWork(db), bus, logger.Discard())
		ingestor = webhook.NewIngestor(registry, eventRepo, logger.Discard())
		processor = webhook.NewProcessor(engine, retries, webhook.ProcessorConfig{
			InlineAttempts:   1,
			InlineDelay:      time.Millisecond,
			DeferredInterval: time.Millisecond,
		}, logger.Discard())

		h := webhook.NewHandler(transport.NewBaseHandler(logger.Discard()), ingestor, processor, 0)
		router = chi.NewRouter()
		router.Post("/api/v1/webhooks/{gateway}", h.Receive)
	})

	createDonation := func(key string) *donationmodel.Donation {
		d := &donationmodel.Donation{
			DonationKey: key,
			DonorEmail:  "donor@example.org",
			Allocations: []donationmodel.Allocation{{CampaignID: 1, Amount: decimal.RequireFromString("12.34")}},
			Amount:      decimal.RequireFromString("12.34"),
			Currency:    "USD",
			Gateway:     "fake",
			Status:      donationmodel.StatusAwaitingGateway,
			Mode:        donationmodel.ModeSandbox,
		}
		Expect(donations.Create(ctx, d)).To(Succeed())
		return d
	}

	count := func(model interface{}) int64 {
		var n int64
		Expect(db.Model(model).Count(&n).Error).To(Succeed())
		return n
	}

	post := func(gatewayName string, body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+gatewayName, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(fakeSignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	Describe("Ingestor", func() {
		It("stores nothing when the signature does not verify", func() {
			_, err := ingestor.Ingest(ctx, "fake", completionBody("evt-1", "k1"), http.Header{})
			Expect(err).To(MatchError(webhook.ErrSignatureMismatch))
			Expect(count(&gatewayevent.GatewayEvent{})).To(BeZero())
		})

		It("stores nothing for a malformed payload", func() {
			h := http.Header{}
			h.Set(fakeSignatureHeader, "ok")
			_, err := ingestor.Ingest(ctx, "fake", []byte(`not json`), h)
			Expect(err).To(MatchError(webhook.ErrMalformedPayload))
			Expect(count(&gatewayevent.GatewayEvent{})).To(BeZero())
		})

		It("stores nothing when the envelope parses but its object does not", func() {
			h := http.Header{}
			h.Set(fakeSignatureHeader, "ok")
			body := []byte(`{"id":"evt-9","type":"payment.completed","data":"not-an-object"}`)

			_, err := ingestor.Ingest(ctx, "fake", body, h)
			Expect(err).To(MatchError(webhook.ErrMalformedPayload))
			Expect(count(&gatewayevent.GatewayEvent{})).To(BeZero())

			Expect(post("fake", body, "ok").Code).To(Equal(http.StatusBadRequest))
			Expect(count(&gatewayevent.GatewayEvent{})).To(BeZero())
		})

		It("carries the classified notification to the processor", func() {
			h := http.Header{}
			h.Set(fakeSignatureHeader, "ok")
			d, err := ingestor.Ingest(ctx, "fake", completionBody("evt-2", "k2"), h)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Notification).NotTo(BeNil())
			Expect(d.Notification.Kind).To(Equal(gateway.KindPaymentCompleted))
		})

		It("persists the delivery with masked headers", func() {
			h := http.Header{}
			h.Set(fakeSignatureHeader, "ok")
			h.Set("User-Agent", "fake-gateway/1.0")
			body := completionBody("evt-1", "k1")

			d, err := ingestor.Ingest(ctx, "fake", body, h)
			Expect(err).NotTo(HaveOccurred())

			stored, err := eventRepo.Get(ctx, d.Event.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Gateway).To(Equal("fake"))
			Expect(stored.EventType).To(Equal("payment.completed"))
			Expect(*stored.DeliveryID).To(Equal("evt-1"))
			Expect(stored.Signature).To(Equal("ok"))
			Expect(stored.PayloadHash).To(Equal(reconcile.PayloadHash(body)))
			Expect(stored.Headers[fakeSignatureHeader]).To(Equal("[FILTERED]"))
			Expect(stored.Headers["User-Agent"]).To(Equal("fake-gateway/1.0"))
		})
	})

	Describe("Handler", func() {
		It("answers 401 on a bad signature", func() {
			Expect(post("fake", completionBody("evt-1", "k1"), "bad").Code).To(Equal(http.StatusUnauthorized))
		})

		It("answers 400 on a malformed body", func() {
			Expect(post("fake", []byte(`{"id":"x"}`), "ok").Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 404 for unknown or unavailable gateways", func() {
			Expect(post("nope", completionBody("evt-1", "k1"), "ok").Code).To(Equal(http.StatusNotFound))
			Expect(post("dormant", completionBody("evt-1", "k1"), "ok").Code).To(Equal(http.StatusNotFound))
		})

		It("applies a completion and acknowledges a redelivery as a duplicate", func() {
			d := createDonation("k1")

			rec := post("fake", completionBody("evt-1", "k1"), "ok")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var ack webhook.AckResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
			Expect(ack.Outcome).To(Equal(idempotency.OutcomeApplied))
			Expect(ack.Deferred).To(BeFalse())

			reloaded, err := donations.GetByID(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(donationmodel.StatusCompleted))

			rec = post("fake", completionBody("evt-1", "k1"), "ok")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(count(&gatewayevent.GatewayEvent{})).To(Equal(int64(2)))
			Expect(count(&idempotency.ProcessedEvent{})).To(Equal(int64(1)))
		})

		It("acknowledges a delivery whose donation is not yet visible", func() {
			rec := post("fake", completionBody("evt-9", "late"), "ok")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var ack webhook.AckResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
			Expect(ack.Deferred).To(BeTrue())
			Expect(count(&gatewayevent.EventRetry{})).To(Equal(int64(1)))
		})
	})

	Describe("RetryWorker", func() {
		var worker *webhook.RetryWorker

		newWorker := func(maxAttempts int) *webhook.RetryWorker {
			return webhook.NewRetryWorker(processor, eventRepo, retries, registry, webhook.WorkerConfig{
				Workers:     2,
				BatchSize:   10,
				Interval:    time.Millisecond,
				MaxAttempts: maxAttempts,
			}, logger.Discard())
		}

		deliverEarly := func(key string) string {
			h := http.Header{}
			h.Set(fakeSignatureHeader, "ok")
			d, err := ingestor.Ingest(ctx, "fake", completionBody("evt-"+key, key), h)
			Expect(err).NotTo(HaveOccurred())
			res, err := processor.Process(ctx, d)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Deferred).To(BeTrue())
			return d.Event.ID
		}

		retryFor := func(eventID string) gatewayevent.EventRetry {
			var r gatewayevent.EventRetry
			Expect(db.Where("gateway_event_id = ?", eventID).First(&r).Error).To(Succeed())
			return r
		}

		AfterEach(func() {
			if worker != nil {
				worker.Shutdown()
			}
		})

		It("applies a parked event once its donation exists", func() {
			eventID := deliverEarly("k2")
			d := createDonation("k2")
			time.Sleep(5 * time.Millisecond)

			worker = newWorker(5)
			n, err := worker.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			r := retryFor(eventID)
			Expect(r.State).To(Equal(gatewayevent.RetryDone))
			Expect(r.Attempts).To(Equal(1))

			reloaded, err := donations.GetByID(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(donationmodel.StatusCompleted))
		})

		It("abandons a parked event after the last attempt", func() {
			eventID := deliverEarly("never")
			time.Sleep(5 * time.Millisecond)

			worker = newWorker(1)
			_, err := worker.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			r := retryFor(eventID)
			Expect(r.State).To(Equal(gatewayevent.RetryAbandoned))
			Expect(r.LastError).NotTo(BeEmpty())
		})

		It("keeps events with pending retries when pruning", func() {
			eventID := deliverEarly("k3")
			n, err := eventRepo.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			_, err = eventRepo.Get(ctx, eventID)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
