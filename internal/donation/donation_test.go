package donation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	donationmodel "github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/donation"
)

var _ = Describe("state machine", func() {
	DescribeTable("allowed transitions",
		func(from donationmodel.Status, ev donation.Event, to donationmodel.Status) {
			next, err := donation.Next(from, ev)
			Expect(err).NotTo(HaveOccurred())
			Expect(next).To(Equal(to))
		},
		Entry("checkout created", donationmodel.StatusPendingCreation, donation.EventCheckoutCreated, donationmodel.StatusAwaitingGateway),
		Entry("completed before checkout applied", donationmodel.StatusPendingCreation, donation.EventPaymentCompleted, donationmodel.StatusCompleted),
		Entry("failed before checkout applied", donationmodel.StatusPendingCreation, donation.EventPaymentFailed, donationmodel.StatusFailed),
		Entry("completed", donationmodel.StatusAwaitingGateway, donation.EventPaymentCompleted, donationmodel.StatusCompleted),
		Entry("failed", donationmodel.StatusAwaitingGateway, donation.EventPaymentFailed, donationmodel.StatusFailed),
		Entry("cancelled", donationmodel.StatusAwaitingGateway, donation.EventPaymentCancelled, donationmodel.StatusCancelled),
		Entry("refund", donationmodel.StatusCompleted, donation.EventRefund, donationmodel.StatusRefunded),
		Entry("dispute", donationmodel.StatusCompleted, donation.EventDispute, donationmodel.StatusDisputed),
	)

	DescribeTable("rejected transitions",
		func(from donationmodel.Status, ev donation.Event) {
			next, err := donation.Next(from, ev)
			Expect(err).To(MatchError(donation.ErrInvalidTransition))
			Expect(next).To(Equal(from))
		},
		Entry("completed cannot fail", donationmodel.StatusCompleted, donation.EventPaymentFailed),
		Entry("completed cannot re-complete", donationmodel.StatusCompleted, donation.EventPaymentCompleted),
		Entry("refund requires completion", donationmodel.StatusAwaitingGateway, donation.EventRefund),
		Entry("checkout after completion", donationmodel.StatusCompleted, donation.EventCheckoutCreated),
		Entry("refunded is terminal", donationmodel.StatusRefunded, donation.EventDispute),
		Entry("failed is terminal", donationmodel.StatusFailed, donation.EventPaymentCompleted),
	)

	It("applies the status and reports the previous one", func() {
		d := &donationmodel.Donation{Status: donationmodel.StatusAwaitingGateway}
		from, err := donation.Apply(d, donation.EventPaymentCompleted)
		Expect(err).NotTo(HaveOccurred())
		Expect(from).To(Equal(donationmodel.StatusAwaitingGateway))
		Expect(d.Status).To(Equal(donationmodel.StatusCompleted))
	})

	It("leaves the donation untouched on a rejected transition", func() {
		d := &donationmodel.Donation{Status: donationmodel.StatusCompleted}
		_, err := donation.Apply(d, donation.EventPaymentFailed)
		Expect(err).To(MatchError(donation.ErrInvalidTransition))
		Expect(d.Status).To(Equal(donationmodel.StatusCompleted))
	})
})

var _ = Describe("AttachGatewayIDs", func() {
	It("sets the transaction id once", func() {
		d := &donationmodel.Donation{}
		Expect(donation.AttachGatewayIDs(d, "order-1", "")).To(Succeed())
		Expect(d.TransactionID()).To(Equal("order-1"))

		Expect(donation.AttachGatewayIDs(d, "order-1", "pay-1")).To(Succeed())
		Expect(d.PaymentID()).To(Equal("pay-1"))

		err := donation.AttachGatewayIDs(d, "order-2", "")
		Expect(err).To(MatchError(donation.ErrGatewayIDConflict))
		Expect(d.TransactionID()).To(Equal("order-1"))
	})
})

var _ = Describe("AttachCustomer", func() {
	It("records the first customer of a recurring donation only", func() {
		interval := donationmodel.IntervalMonth
		d := &donationmodel.Donation{RecurringInterval: &interval}
		Expect(donation.AttachCustomer(d, "")).To(BeFalse())
		Expect(donation.AttachCustomer(d, "CUST_1")).To(BeTrue())
		Expect(donation.AttachCustomer(d, "CUST_2")).To(BeFalse())
		Expect(d.CustomerID()).To(Equal("CUST_1"))

		oneOff := &donationmodel.Donation{}
		Expect(donation.AttachCustomer(oneOff, "CUST_1")).To(BeFalse())
		Expect(oneOff.GatewayCustomerID).To(BeNil())
	})
})

var _ = Describe("CheckAllocations", func() {
	It("requires at least one allocation", func() {
		d := &donationmodel.Donation{Amount: decimal.NewFromInt(10)}
		Expect(donation.CheckAllocations(d)).To(MatchError(donation.ErrAllocationsRequired))
	})

	It("requires allocations to sum to the amount", func() {
		d := &donationmodel.Donation{
			Amount: decimal.RequireFromString("25.50"),
			Allocations: []donationmodel.Allocation{
				{CampaignID: 1, Amount: decimal.RequireFromString("20")},
				{CampaignID: 2, Amount: decimal.RequireFromString("5.5")},
			},
		}
		Expect(donation.CheckAllocations(d)).To(Succeed())

		d.Allocations[1].Amount = decimal.RequireFromString("5")
		Expect(donation.CheckAllocations(d)).To(MatchError(donation.ErrAllocationMismatch))
	})
})
