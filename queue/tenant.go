package queue

// AllTypes in TenantConfig.Type applies a tenant limit across every
// workflow type.
const AllTypes = "*"

// TenantConfig limits one tenant, on one workflow type or on all of them.
type TenantConfig struct {
	// Type is the workflow type, or AllTypes (also used when empty).
	Type string

	// TenantID is the tenant the limits apply to. Ignored by
	// SetDefaultTenantConfig.
	TenantID string

	// RateLimit is the sustained admissions per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's limiter.
	RateBurst int

	// MaxConcurrency limits executions of this tenant driven at once.
	MaxConcurrency int
}

func tenantKey(typ, tenantID string) string {
	if typ == "" {
		typ = AllTypes
	}
	return typ + ":" + tenantID
}

// SetTenantConfig configures one tenant. Calling it again for the same
// type and tenant replaces the limits and keeps the active count.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.Type, cfg.TenantID)
	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.tenants[key]; existing != nil {
		g.active = existing.active
	}
	m.tenants[key] = g
}

// SetDefaultTenantConfig applies cfg to every tenant without an explicit
// configuration. Each such tenant gets its own limiter, so one busy tenant
// cannot starve the others.
func (m *Manager) SetDefaultTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.Type = AllTypes
	cfg.TenantID = ""
	m.defaultTenant = &cfg
}

// TenantActiveCount returns the admitted executions counted against the
// gate that governs tenantID on typ.
func (m *Manager) TenantActiveCount(typ, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.tenantGate(typ, tenantID); g != nil {
		return g.active
	}
	return 0
}

// tenantGate resolves the gate for a tenant: an exact type match, then
// the tenant's all-types config, then a lazily created default. m.mu must
// be held.
func (m *Manager) tenantGate(typ, tenantID string) *gate {
	if tenantID == "" {
		return nil
	}
	if g := m.tenants[tenantKey(typ, tenantID)]; g != nil {
		return g
	}
	key := tenantKey(AllTypes, tenantID)
	if g := m.tenants[key]; g != nil {
		return g
	}
	if d := m.defaultTenant; d != nil {
		g := newGate(d.RateLimit, d.RateBurst, d.MaxConcurrency)
		m.tenants[key] = g
		return g
	}
	return nil
}
