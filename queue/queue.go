package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config limits one workflow type across every tenant.
type Config struct {
	// Type is the workflow type the limits apply to.
	Type string

	// MaxConcurrency limits how many executions of this type the local
	// pool drives at once. Zero means no type-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained admissions per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int
}

// gate is the runtime state behind one Config or TenantConfig.
type gate struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newGate(ratePerSec float64, burst, maxConcurrency int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return g
}

func (g *gate) full() bool { return g.maxConcurrency > 0 && g.active >= g.maxConcurrency }

func (g *gate) hasToken() bool { return g.limiter == nil || g.limiter.Tokens() >= 1 }

func (g *gate) admit() {
	if g.limiter != nil {
		g.limiter.Allow()
	}
	g.active++
}

// Manager admits executions into the worker pool under per-type and
// per-tenant limits. It is safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	types         map[string]*gate
	typeConfigs   map[string]Config
	tenants       map[string]*gate
	defaultTenant *TenantConfig
}

// NewManager creates a Manager with the given type configurations. Types
// not listed have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types:       make(map[string]*gate, len(configs)),
		typeConfigs: make(map[string]Config, len(configs)),
		tenants:     make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.types[cfg.Type] = newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
		m.typeConfigs[cfg.Type] = cfg
	}
	return m
}

// Acquire admits one execution of typ for tenantID. When it returns true
// the caller must call Release once the execution stops being driven.
// A denied call consumes no rate tokens.
func (m *Manager) Acquire(typ, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tg := m.types[typ]
	ng := m.tenantGate(typ, tenantID)

	for _, g := range []*gate{tg, ng} {
		if g != nil && (g.full() || !g.hasToken()) {
			return false
		}
	}
	// Limiters are only touched under m.mu, so the tokens seen above are
	// still there.
	for _, g := range []*gate{tg, ng} {
		if g != nil {
			g.admit()
		}
	}
	return true
}

// Release frees the slot taken by a successful Acquire.
func (m *Manager) Release(typ, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.types[typ]; g != nil && g.active > 0 {
		g.active--
	}
	if g := m.tenantGate(typ, tenantID); g != nil && g.active > 0 {
		g.active--
	}
}

// SetTypeConfig updates or creates a type configuration, keeping the
// current active count.
func (m *Manager) SetTypeConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.types[cfg.Type]; existing != nil {
		g.active = existing.active
	}
	m.types[cfg.Type] = g
	m.typeConfigs[cfg.Type] = cfg
}

// ActiveCount returns how many executions of typ are admitted.
func (m *Manager) ActiveCount(typ string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.types[typ]; g != nil {
		return g.active
	}
	return 0
}

// Configs returns a copy of the type configurations keyed by type.
func (m *Manager) Configs() map[string]Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Config, len(m.typeConfigs))
	for k, v := range m.typeConfigs {
		out[k] = v
	}
	return out
}
