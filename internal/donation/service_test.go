package donation_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/donation-gateway/internal"
	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/idempotency"
	"github.com/frahmantamala/donation-gateway/internal/donation"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

type mockDonationRepository struct {
	byID      map[int64]*donationmodel.Donation
	createErr error
}

func newMockDonationRepository() *mockDonationRepository {
	return &mockDonationRepository{byID: make(map[int64]*donationmodel.Donation)}
}

func (m *mockDonationRepository) Create(_ context.Context, d *donationmodel.Donation) error {
	if m.createErr != nil {
		return m.createErr
	}
	d.ID = int64(len(m.byID) + 1)
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.byID[d.ID] = d
	return nil
}

func (m *mockDonationRepository) GetByID(_ context.Context, id int64) (*donationmodel.Donation, error) {
	if d, ok := m.byID[id]; ok {
		return d, nil
	}
	return nil, donation.NotFound("id", "missing")
}

func (m *mockDonationRepository) GetByKey(_ context.Context, key string) (*donationmodel.Donation, error) {
	for _, d := range m.byID {
		if d.DonationKey == key {
			return d, nil
		}
	}
	return nil, donation.NotFound("donation_key", key)
}

func (m *mockDonationRepository) GetByTransactionID(_ context.Context, gateway, txn string) (*donationmodel.Donation, error) {
	for _, d := range m.byID {
		if d.Gateway == gateway && d.TransactionID() == txn {
			return d, nil
		}
	}
	return nil, donation.NotFound("gateway_transaction_id", txn)
}

func (m *mockDonationRepository) GetByPaymentID(_ context.Context, gateway, paymentID string) (*donationmodel.Donation, error) {
	for _, d := range m.byID {
		if d.Gateway == gateway && d.PaymentID() == paymentID {
			return d, nil
		}
	}
	return nil, donation.NotFound("gateway_payment_id", paymentID)
}

func (m *mockDonationRepository) GetUnlinkedRecurring(_ context.Context, gateway, customerID, _ string) (*donationmodel.Donation, error) {
	for _, d := range m.byID {
		if d.Gateway == gateway && d.IsRecurring() && d.CustomerID() == customerID {
			return d, nil
		}
	}
	return nil, donation.NotFound("gateway_customer_id", customerID)
}

func (m *mockDonationRepository) Save(_ context.Context, d *donationmodel.Donation) error {
	m.byID[d.ID] = d
	return nil
}

type stubLinks struct {
	gateway, ref string
	sandbox      bool
}

func (s *stubLinks) TransactionLink(gateway, ref string, sandbox bool) string {
	s.gateway, s.ref, s.sandbox = gateway, ref, sandbox
	return "https://dashboard.example/" + ref
}

type stubHistory struct {
	recs []idempotency.ProcessedEvent
}

func (s *stubHistory) ListByDonation(_ context.Context, donationID int64) ([]idempotency.ProcessedEvent, error) {
	var out []idempotency.ProcessedEvent
	for _, r := range s.recs {
		if r.DonationID != nil && *r.DonationID == donationID {
			out = append(out, r)
		}
	}
	return out, nil
}

func validDTO() donation.CreateDonationDTO {
	return donation.CreateDonationDTO{
		Gateway:  "square",
		Amount:   decimal.RequireFromString("30.00"),
		Currency: "usd",
		Donor: donation.DonorDTO{
			Email:     "ada@example.org",
			FirstName: "Ada",
			LastName:  "Lovelace",
		},
		Allocations: []donation.AllocationDTO{
			{CampaignID: 1, Amount: decimal.RequireFromString("10")},
			{CampaignID: 2, Amount: decimal.RequireFromString("20")},
		},
	}
}

var _ = Describe("Service", func() {
	var (
		repo    *mockDonationRepository
		links   *stubLinks
		history *stubHistory
		service *donation.Service
		ctx     context.Context
	)

	BeforeEach(func() {
		repo = newMockDonationRepository()
		links = &stubLinks{}
		history = &stubHistory{}
		service = donation.NewService(repo, links, history, logger.Discard())
		ctx = context.Background()
	})

	Describe("Create", func() {
		It("persists a pending donation under a fresh key", func() {
			d, err := service.Create(ctx, validDTO(), donationmodel.ModeSandbox)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.ID).To(BeNumerically(">", 0))
			Expect(d.DonationKey).NotTo(BeEmpty())
			Expect(d.Status).To(Equal(donationmodel.StatusPendingCreation))
			Expect(d.Mode).To(Equal(donationmodel.ModeSandbox))
			Expect(d.Allocations).To(HaveLen(2))

			other, err := service.Create(ctx, validDTO(), donationmodel.ModeSandbox)
			Expect(err).NotTo(HaveOccurred())
			Expect(other.DonationKey).NotTo(Equal(d.DonationKey))
		})

		It("rejects allocations that do not sum to the amount", func() {
			dto := validDTO()
			dto.Allocations[1].Amount = decimal.RequireFromString("5")
			_, err := service.Create(ctx, dto, donationmodel.ModeLive)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(400))
			Expect(repo.byID).To(BeEmpty())
		})

		It("rejects amounts finer than the currency allows", func() {
			dto := validDTO()
			dto.Currency = "JPY"
			dto.Amount = decimal.RequireFromString("30.5")
			dto.Allocations = []donation.AllocationDTO{{CampaignID: 1, Amount: dto.Amount}}
			_, err := service.Create(ctx, dto, donationmodel.ModeLive)
			Expect(err).To(HaveOccurred())
		})

		It("rejects a missing donor email", func() {
			dto := validDTO()
			dto.Donor.Email = ""
			_, err := service.Create(ctx, dto, donationmodel.ModeLive)
			Expect(err).To(HaveOccurred())
		})

		It("stores the recurring interval and plan of a subscription checkout", func() {
			dto := validDTO()
			dto.Recurring = &donation.RecurringDTO{Interval: "month", PlanVariationID: "PLAN_VAR_1"}
			d, err := service.Create(ctx, dto, donationmodel.ModeSandbox)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.IsRecurring()).To(BeTrue())
			Expect(d.Interval()).To(Equal("month"))
			Expect(d.PlanVariationID).To(Equal("PLAN_VAR_1"))

			view, err := service.Get(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.RecurringInterval).To(Equal("month"))
		})

		It("rejects an unknown interval and a square subscription without a plan", func() {
			dto := validDTO()
			dto.Recurring = &donation.RecurringDTO{Interval: "fortnight", PlanVariationID: "PLAN_VAR_1"}
			_, err := service.Create(ctx, dto, donationmodel.ModeLive)
			Expect(err).To(HaveOccurred())

			dto.Recurring = &donation.RecurringDTO{Interval: "year"}
			_, err = service.Create(ctx, dto, donationmodel.ModeLive)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(400))

			dto.Gateway = "stripe"
			d, err := service.Create(ctx, dto, donationmodel.ModeLive)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Interval()).To(Equal("year"))
		})

		It("wraps storage failures", func() {
			repo.createErr = errors.New("disk full")
			_, err := service.Create(ctx, validDTO(), donationmodel.ModeLive)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(500))
		})
	})

	Describe("Get", func() {
		It("maps a missing donation to a not found error", func() {
			_, err := service.Get(ctx, 99)
			Expect(err).To(Equal(internal.ErrDonationNotFound))
		})

		It("links the payment id when present", func() {
			d, err := service.Create(ctx, validDTO(), donationmodel.ModeSandbox)
			Expect(err).NotTo(HaveOccurred())
			Expect(donation.AttachGatewayIDs(d, "order-1", "pay-1")).To(Succeed())

			view, err := service.Get(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.GatewayTransactionID).To(Equal("order-1"))
			Expect(view.TransactionLink).To(Equal("https://dashboard.example/pay-1"))
			Expect(links.sandbox).To(BeTrue())
		})

		It("falls back to the transaction id", func() {
			d, err := service.Create(ctx, validDTO(), donationmodel.ModeLive)
			Expect(err).NotTo(HaveOccurred())
			Expect(donation.AttachGatewayIDs(d, "order-1", "")).To(Succeed())

			view, err := service.Get(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(links.ref).To(Equal("order-1"))
			Expect(view.TransactionLink).NotTo(BeEmpty())
		})

		It("includes the recorded reconciliation history", func() {
			d, err := service.Create(ctx, validDTO(), donationmodel.ModeLive)
			Expect(err).NotTo(HaveOccurred())
			history.recs = []idempotency.ProcessedEvent{{
				DonationID:  &d.ID,
				EventType:   "payment.updated",
				Outcome:     idempotency.OutcomeRejected,
				FromStatus:  "completed",
				ToStatus:    "completed",
				Reason:      "invalid donation status transition",
				ProcessedAt: time.Now(),
			}}

			view, err := service.Get(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.History).To(HaveLen(1))
			Expect(view.History[0].Outcome).To(Equal("rejected"))
		})

		It("omits the link before the gateway has answered", func() {
			d, err := service.Create(ctx, validDTO(), donationmodel.ModeLive)
			Expect(err).NotTo(HaveOccurred())
			view, err := service.Get(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.TransactionLink).To(BeEmpty())
		})
	})
})
