package money_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/donation-gateway/internal/money"
)

var _ = Describe("Amount codec", func() {
	Describe("ToMinorUnits", func() {
		It("scales two-decimal currencies by 100", func() {
			minor, err := money.ToMinorUnits(decimal.RequireFromString("12.34"), "USD")
			Expect(err).NotTo(HaveOccurred())
			Expect(minor).To(Equal(int64(1234)))
		})

		It("leaves zero-decimal currencies unscaled", func() {
			minor, err := money.ToMinorUnits(decimal.RequireFromString("1200"), "JPY")
			Expect(err).NotTo(HaveOccurred())
			Expect(minor).To(Equal(int64(1200)))
		})

		It("scales three-decimal currencies by 1000", func() {
			minor, err := money.ToMinorUnits(decimal.RequireFromString("1.005"), "KWD")
			Expect(err).NotTo(HaveOccurred())
			Expect(minor).To(Equal(int64(1005)))
		})

		It("accepts lower-case codes", func() {
			minor, err := money.ToMinorUnits(decimal.RequireFromString("5"), "usd")
			Expect(err).NotTo(HaveOccurred())
			Expect(minor).To(Equal(int64(500)))
		})

		It("rejects negative amounts", func() {
			_, err := money.ToMinorUnits(decimal.RequireFromString("-1"), "USD")
			Expect(err).To(MatchError(money.ErrInvalidAmount))
		})

		It("rejects amounts beyond the currency precision", func() {
			_, err := money.ToMinorUnits(decimal.RequireFromString("12.345"), "USD")
			Expect(err).To(MatchError(money.ErrInvalidAmount))

			_, err = money.ToMinorUnits(decimal.RequireFromString("10.5"), "JPY")
			Expect(err).To(MatchError(money.ErrInvalidAmount))
		})

		It("allows trailing zeros past the precision", func() {
			minor, err := money.ToMinorUnits(decimal.RequireFromString("12.3400"), "USD")
			Expect(err).NotTo(HaveOccurred())
			Expect(minor).To(Equal(int64(1234)))
		})

		It("rejects values that overflow int64", func() {
			_, err := money.ToMinorUnits(decimal.RequireFromString("92233720368547758.08"), "USD")
			Expect(err).To(MatchError(money.ErrInvalidAmount))
		})

		It("rejects malformed currency codes", func() {
			_, err := money.ToMinorUnits(decimal.NewFromInt(1), "US")
			Expect(err).To(MatchError(money.ErrInvalidCurrency))

			_, err = money.ToMinorUnits(decimal.NewFromInt(1), "U$D")
			Expect(err).To(MatchError(money.ErrInvalidCurrency))
		})
	})

	Describe("FromMinorUnits", func() {
		It("restores the decimal amount", func() {
			d, err := money.FromMinorUnits(1234, "USD")
			Expect(err).NotTo(HaveOccurred())
			Expect(d.String()).To(Equal("12.34"))
		})

		It("rejects negative minor units", func() {
			_, err := money.FromMinorUnits(-5, "USD")
			Expect(err).To(MatchError(money.ErrInvalidAmount))
		})
	})

	DescribeTable("round trips valid amounts",
		func(amount, currency string) {
			x := decimal.RequireFromString(amount)
			minor, err := money.ToMinorUnits(x, currency)
			Expect(err).NotTo(HaveOccurred())
			back, err := money.FromMinorUnits(minor, currency)
			Expect(err).NotTo(HaveOccurred())
			Expect(back.Equal(x)).To(BeTrue())
		},
		Entry("cents", "0.01", "USD"),
		Entry("whole euros", "250", "EUR"),
		Entry("yen", "1200", "JPY"),
		Entry("won", "50000", "KRW"),
		Entry("dinar", "3.141", "BHD"),
		Entry("large amount", "92233720368547758.07", "USD"),
	)

	Describe("FromFloat", func() {
		It("rejects non-finite floats", func() {
			_, err := money.FromFloat(math.NaN())
			Expect(err).To(MatchError(money.ErrInvalidAmount))
			_, err = money.FromFloat(math.Inf(1))
			Expect(err).To(MatchError(money.ErrInvalidAmount))
		})

		It("converts finite floats", func() {
			d, err := money.FromFloat(12.34)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.String()).To(Equal("12.34"))
		})
	})

	Describe("ParseAmount", func() {
		It("rejects garbage", func() {
			_, err := money.ParseAmount("twelve")
			Expect(err).To(MatchError(money.ErrInvalidAmount))
		})
	})
})
