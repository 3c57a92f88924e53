// Package capability decides whether the host can run a gateway integration
// before any of its code is loaded.
package capability

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"
)

// Probe reports the version of the environment being checked.
type Probe func() (string, error)

// RuntimeProbe reports the Go runtime version, or override when set.
func RuntimeProbe(override string) Probe {
	return func() (string, error) {
		if override != "" {
			return override, nil
		}
		return strings.TrimPrefix(runtime.Version(), "go"), nil
	}
}

// Notice is an operator-facing warning raised when a gate fails.
type Notice struct {
	Gateway string    `json:"gateway"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

type Option func(*Gate)

func WithNoticeInterval(d time.Duration) Option {
	return func(g *Gate) { g.noticeInterval = d }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// Gate checks a probed version against a semver constraint. A pass is
// remembered for the life of the process; a failure is evaluated again on
// the next call so an upgraded host recovers without a restart.
type Gate struct {
	gateway    string
	constraint *semver.Constraints
	probe      Probe
	logger     *slog.Logger

	passed atomic.Bool
	group  singleflight.Group

	mu             sync.Mutex
	lastNotice     map[string]time.Time
	notices        map[string]Notice
	noticeInterval time.Duration
	now            func() time.Time
}

// New builds a gate. An empty constraint always passes.
func New(gateway, constraint string, probe Probe, logger *slog.Logger, opts ...Option) (*Gate, error) {
	g := &Gate{
		gateway:        gateway,
		probe:          probe,
		logger:         logger,
		lastNotice:     make(map[string]time.Time),
		notices:        make(map[string]Notice),
		noticeInterval: time.Hour,
		now:            time.Now,
	}
	if constraint != "" {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("capability %s: invalid constraint %q: %w", gateway, constraint, err)
		}
		g.constraint = c
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type result struct {
	ok     bool
	reason string
}

// Status returns whether the gate passes and, if not, why.
func (g *Gate) Status() (bool, string) {
	if g.passed.Load() {
		return true, ""
	}
	v, _, _ := g.group.Do("eval", func() (interface{}, error) {
		return g.evaluate(), nil
	})
	res := v.(result)
	if res.ok {
		g.passed.Store(true)
		g.logger.Info("gateway capability check passed", "gateway", g.gateway)
		return true, ""
	}
	g.surface(res.reason)
	return false, res.reason
}

func (g *Gate) IsCompatible() bool {
	ok, _ := g.Status()
	return ok
}

func (g *Gate) evaluate() result {
	if g.constraint == nil {
		return result{ok: true}
	}
	raw, err := g.probe()
	if err != nil {
		return result{reason: fmt.Sprintf("version probe failed: %v", err)}
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return result{reason: fmt.Sprintf("unparseable runtime version %q", raw)}
	}
	if ok, errs := g.constraint.Validate(v); !ok {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return result{reason: fmt.Sprintf("runtime %s: %s", v, strings.Join(msgs, "; "))}
	}
	return result{ok: true}
}

// surface logs one warning per reason per notice interval.
func (g *Gate) surface(reason string) {
	now := g.now()

	g.mu.Lock()
	last, seen := g.lastNotice[reason]
	if seen && now.Sub(last) < g.noticeInterval {
		g.mu.Unlock()
		return
	}
	g.lastNotice[reason] = now
	n := Notice{Gateway: g.gateway, Reason: reason, At: now}
	g.notices[reason] = n
	g.mu.Unlock()

	g.logger.Warn("gateway disabled: environment incompatible",
		"gateway", g.gateway,
		"reason", reason)
}

// Notices returns the most recent notice per distinct reason, oldest first.
// The gateway catalog shows them to operators.
func (g *Gate) Notices() []Notice {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Notice, 0, len(g.notices))
	for _, n := range g.notices {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
