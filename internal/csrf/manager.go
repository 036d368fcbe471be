package csrf

import (
	"github.com/wudi/csrfguard/internal/byroute"
	"github.com/wudi/csrfguard/internal/config"
)

// ByRoute holds the compiled protectors of every route.
type ByRoute struct {
	byroute.Manager[*Protector]
}

// NewByRoute creates an empty ByRoute.
func NewByRoute() *ByRoute {
	return &ByRoute{}
}

// AddRoute compiles cfg for routeID and registers the result.
func (m *ByRoute) AddRoute(routeID string, cfg config.SecurityConfig, opts ...Option) (*Protector, error) {
	p, err := New(routeID, cfg, opts...)
	if err != nil {
		return nil, err
	}
	m.Add(routeID, p)
	return p, nil
}

// GetProtector returns the protector for a route, or nil.
func (m *ByRoute) GetProtector(routeID string) *Protector {
	p, _ := m.Get(routeID)
	return p
}

// Stats returns admin status for all routes.
func (m *ByRoute) Stats() map[string]CSRFStatus {
	result := make(map[string]CSRFStatus, m.Len())
	m.Range(func(id string, p *Protector) bool {
		result[id] = p.Status()
		return true
	})
	return result
}
