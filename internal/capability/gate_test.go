package capability_test

import (
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/donation-gateway/internal/capability"
	"github.com/frahmantamala/donation-gateway/pkg/logger"
)

var _ = Describe("Capability gate", func() {
	var (
		version string
		probes  atomic.Int32
		probe   capability.Probe
		now     time.Time
	)

	BeforeEach(func() {
		version = "1.20.3"
		probes.Store(0)
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		probe = func() (string, error) {
			probes.Add(1)
			return version, nil
		}
	})

	newGate := func() *capability.Gate {
		g, err := capability.New("square", ">= 1.21.0", probe, logger.Discard(),
			capability.WithClock(func() time.Time { return now }),
			capability.WithNoticeInterval(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	It("reports an incompatible runtime with a reason", func() {
		g := newGate()
		ok, reason := g.Status()
		Expect(ok).To(BeFalse())
		Expect(reason).To(ContainSubstring("1.20.3"))
		Expect(g.IsCompatible()).To(BeFalse())
	})

	It("raises a single notice per reason within the interval", func() {
		g := newGate()
		first := now
		for i := 0; i < 5; i++ {
			g.IsCompatible()
			now = now.Add(time.Minute)
		}
		Expect(g.Notices()).To(HaveLen(1))
		Expect(g.Notices()[0].At).To(Equal(first))

		now = now.Add(2 * time.Hour)
		g.IsCompatible()
		Expect(g.Notices()).To(HaveLen(1))
		Expect(g.Notices()[0].At).To(Equal(now))
		Expect(g.Notices()[0].Gateway).To(Equal("square"))
	})

	It("re-evaluates after a failure so an upgrade is picked up", func() {
		g := newGate()
		Expect(g.IsCompatible()).To(BeFalse())

		version = "1.22.1"
		Expect(g.IsCompatible()).To(BeTrue())
	})

	It("memoizes success", func() {
		version = "1.23.0"
		g := newGate()
		Expect(g.IsCompatible()).To(BeTrue())
		Expect(g.IsCompatible()).To(BeTrue())
		Expect(probes.Load()).To(Equal(int32(1)))
	})

	It("fails closed when the probe errors", func() {
		probe = func() (string, error) { return "", errors.New("no runtime") }
		g := newGate()
		ok, reason := g.Status()
		Expect(ok).To(BeFalse())
		Expect(reason).To(ContainSubstring("no runtime"))
	})

	It("passes without a constraint", func() {
		g, err := capability.New("stripe", "", probe, logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(g.IsCompatible()).To(BeTrue())
		Expect(probes.Load()).To(BeZero())
	})

	It("rejects invalid constraints", func() {
		_, err := capability.New("stripe", ">= banana", probe, logger.Discard())
		Expect(err).To(HaveOccurred())
	})

	It("uses the override in the runtime probe", func() {
		v, err := capability.RuntimeProbe("1.2.3")()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("1.2.3"))
	})
})
