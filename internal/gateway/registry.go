package gateway

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/frahmantamala/donation-gateway/internal/capability"
)

// Gate reports whether a gateway's runtime preconditions hold.
type Gate interface {
	Status() (bool, string)
}

// NoticeSource is a gate that keeps operator notices about past failures.
type NoticeSource interface {
	Notices() []capability.Notice
}

type Factory func() (Adapter, error)

type Registration struct {
	Name    string
	Title   string
	Gate    Gate
	Factory Factory
}

// Offer is a gateway a donor may choose.
type Offer struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Filter narrows the offerable list, e.g. by currency or feature flag.
type Filter func(offers []Offer) []Offer

type Capability struct {
	Compatible bool                `json:"compatible"`
	Reason     string              `json:"reason,omitempty"`
	Loaded     bool                `json:"loaded"`
	Notices    []capability.Notice `json:"notices,omitempty"`
}

type entry struct {
	reg     Registration
	mu      sync.Mutex
	adapter Adapter
}

// Registry maps gateway ids to statically known adapters. A factory only
// runs once its gate passes.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	filters []Filter
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.Name] = &entry{reg: reg}
	r.logger.Info("gateway registered", "gateway", reg.Name)
}

func (r *Registry) AddFilter(f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func (e *entry) gateStatus() (bool, string) {
	if e.reg.Gate == nil {
		return true, ""
	}
	return e.reg.Gate.Status()
}

// Get returns the adapter for name, constructing it on first use.
func (r *Registry) Get(name string) (Adapter, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	if ok, reason := e.gateStatus(); !ok {
		return nil, fmt.Errorf("%w: %s: %s", ErrGatewayUnavailable, name, reason)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapter != nil {
		return e.adapter, nil
	}
	adapter, err := e.reg.Factory()
	if err != nil {
		r.logger.Error("gateway adapter construction failed", "gateway", name, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, name, err)
	}
	e.adapter = adapter
	r.logger.Info("gateway adapter loaded", "gateway", name)
	return adapter, nil
}

func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Offerable lists gateways whose gate passes, after all filters.
func (r *Registry) Offerable() []Offer {
	offers := make([]Offer, 0)
	for _, name := range r.names() {
		e, _ := r.lookup(name)
		if ok, _ := e.gateStatus(); ok {
			offers = append(offers, Offer{Name: name, Title: e.reg.Title})
		}
	}

	r.mu.RLock()
	filters := append([]Filter(nil), r.filters...)
	r.mu.RUnlock()
	for _, f := range filters {
		offers = f(offers)
	}
	return offers
}

// Capabilities exposes each gateway's gate result without loading adapters.
func (r *Registry) Capabilities() map[string]Capability {
	out := make(map[string]Capability)
	for _, name := range r.names() {
		e, _ := r.lookup(name)
		ok, reason := e.gateStatus()
		e.mu.Lock()
		loaded := e.adapter != nil
		e.mu.Unlock()
		c := Capability{Compatible: ok, Reason: reason, Loaded: loaded}
		if src, isSource := e.reg.Gate.(NoticeSource); isSource {
			c.Notices = src.Notices()
		}
		out[name] = c
	}
	return out
}

// TransactionLink satisfies the donation link resolver. Unavailable gateways
// yield no link.
func (r *Registry) TransactionLink(name, transactionID string, sandbox bool) string {
	adapter, err := r.Get(name)
	if err != nil {
		return ""
	}
	return adapter.TransactionLink(transactionID, sandbox)
}
