package call

import "log/slog"

// Manager creates a call for every leg handed to it by telephony.
type Manager struct {
	cfg  Config
	deps Deps
}

// NewManager creates a manager sharing deps between calls.
func NewManager(cfg Config, deps Deps) *Manager {
	return &Manager{cfg: cfg.withDefaults(), deps: deps.withDefaults()}
}

// HandleCall starts orchestrating leg. The leg is declined when the call
// cannot be registered.
func (m *Manager) HandleCall(leg Leg) *Call {
	c := New(leg, m.cfg, m.deps)
	if m.deps.Registry != nil {
		if err := m.deps.Registry.Add(c); err != nil {
			slog.Warn("[Call] Failed to register call", "call_id", c.ID(), "error", err)
			c.cancel()
			c.releaseLeg()
			return nil
		}
	}
	c.Start()
	return c
}
