package recurring_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel"
	subscriptionmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
	"github.com/frahmantamala/donation-gateway/internal/money"
	"github.com/frahmantamala/donation-gateway/internal/recurring"
	"github.com/frahmantamala/donation-gateway/internal/recurring/postgres"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

var _ = Describe("NextStatus", func() {
	DescribeTable("lifecycle",
		func(from subscriptionmodel.Status, kind subscriptionmodel.EntryKind, to subscriptionmodel.Status, want error) {
			next, err := recurring.NextStatus(from, kind)
			if want == nil {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(MatchError(want))
			}
			Expect(next).To(Equal(to))
		},
		Entry("renewal keeps active", subscriptionmodel.StatusActive, subscriptionmodel.EntryRenewed, subscriptionmodel.StatusActive, nil),
		Entry("pause", subscriptionmodel.StatusActive, subscriptionmodel.EntryPaused, subscriptionmodel.StatusPaused, nil),
		Entry("resume", subscriptionmodel.StatusPaused, subscriptionmodel.EntryResumed, subscriptionmodel.StatusActive, nil),
		Entry("cancel while paused", subscriptionmodel.StatusPaused, subscriptionmodel.EntryCancelled, subscriptionmodel.StatusCancelled, nil),
		Entry("expire", subscriptionmodel.StatusActive, subscriptionmodel.EntryExpired, subscriptionmodel.StatusExpired, nil),
		Entry("resume while active", subscriptionmodel.StatusActive, subscriptionmodel.EntryResumed, subscriptionmodel.StatusActive, recurring.ErrNoChange),
		Entry("renewal after cancel", subscriptionmodel.StatusCancelled, subscriptionmodel.EntryRenewed, subscriptionmodel.StatusCancelled, recurring.ErrInvalidTransition),
		Entry("resume after expiry", subscriptionmodel.StatusExpired, subscriptionmodel.EntryResumed, subscriptionmodel.StatusExpired, recurring.ErrInvalidTransition),
		Entry("created is not a change", subscriptionmodel.StatusActive, subscriptionmodel.EntryCreated, subscriptionmodel.StatusActive, recurring.ErrInvalidTransition),
	)
})

var _ = Describe("Ledger", func() {
	var (
		db      *gorm.DB
		repo    *postgres.SubscriptionRepository
		ledger  *recurring.Ledger
		service *recurring.Service
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(datamodel.Models()...)).To(Succeed())

		repo = postgres.NewSubscriptionRepository(db)
		ledger = recurring.NewLedger(repo)
		service = recurring.NewService(repo, logger.Discard())
		ctx = context.Background()
	})

	open := func() *subscriptionmodel.Subscription {
		sub, err := ledger.Open(ctx, recurring.Opening{
			Gateway:               "square",
			GatewaySubscriptionID: "sub-1",
			PlanVariationID:       "plan-7",
			DonationID:            11,
			OccurredAt:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		Expect(err).NotTo(HaveOccurred())
		return sub
	}

	It("opens an active subscription with a created entry", func() {
		sub := open()
		Expect(sub.ID).To(BeNumerically(">", 0))
		Expect(sub.Status).To(Equal(subscriptionmodel.StatusActive))

		entries, err := repo.ListEntries(ctx, sub.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Kind).To(Equal(subscriptionmodel.EntryCreated))
	})

	It("records renewals with amount and last renewal time", func() {
		sub := open()
		seq := int64(2)
		at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		from, err := ledger.Record(ctx, sub, recurring.Change{
			Kind:            subscriptionmodel.EntryRenewed,
			RenewalSequence: &seq,
			PaymentID:       "pay-2",
			Amount:          &money.Amount{Minor: 1500, Currency: "USD"},
			OccurredAt:      at,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(from).To(Equal(subscriptionmodel.StatusActive))

		stored, err := repo.GetByGatewayID(ctx, "sub-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.LastRenewalAt).NotTo(BeNil())
		Expect(stored.LastRenewalAt.Equal(at)).To(BeTrue())

		view, err := service.Get(ctx, "sub-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(view.Entries).To(HaveLen(2))
		Expect(view.Entries[1].Kind).To(Equal(subscriptionmodel.EntryRenewed))
		Expect(view.Entries[1].GatewayPaymentID).To(Equal("pay-2"))
		Expect(view.Entries[1].Amount.String()).To(Equal("15"))
	})

	It("keeps history after cancellation and refuses further changes", func() {
		sub := open()
		_, err := ledger.Record(ctx, sub, recurring.Change{Kind: subscriptionmodel.EntryCancelled})
		Expect(err).NotTo(HaveOccurred())

		_, err = ledger.Record(ctx, sub, recurring.Change{Kind: subscriptionmodel.EntryRenewed})
		Expect(err).To(MatchError(recurring.ErrInvalidTransition))

		view, err := service.Get(ctx, "sub-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(view.Status).To(Equal(subscriptionmodel.StatusCancelled))
		Expect(view.Entries).To(HaveLen(2))
	})

	It("reports unknown subscriptions", func() {
		_, err := repo.GetByGatewayID(ctx, "missing")
		Expect(err).To(MatchError(recurring.ErrSubscriptionNotFound))

		_, err = service.Get(ctx, "missing")
		Expect(err).To(Equal(internal.ErrSubscriptionNotFound))
	})
})
