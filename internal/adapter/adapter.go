package adapter

import (
	"fmt"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"CrmSync/internal/config"
	"CrmSync/internal/interfaces"
	"CrmSync/internal/metrics"
)

// Registry holds the CRM adapter selected by configuration.
type Registry struct {
	cfg     *config.CRMConfig
	logger  *logrus.Logger
	adapter interfaces.CRMAdapter
}

// NewRegistry builds the adapter named by cfg.Provider from the registered factories.
func NewRegistry(cfg *config.CRMConfig, logger *logrus.Logger, m *metrics.Metrics, clock quartz.Clock) (*Registry, error) {
	factory, ok := GetFactory(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("no crm adapter registered for provider %q (registered: %v)", cfg.Provider, ListFactories())
	}
	a, err := factory(cfg, logger, m, clock)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", cfg.Provider, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%s factory returned a nil adapter", cfg.Provider)
	}
	if a.Name() != cfg.Provider {
		return nil, fmt.Errorf("adapter name %q does not match provider %q", a.Name(), cfg.Provider)
	}
	logger.WithField("provider", cfg.Provider).Info("crm adapter initialised")
	return &Registry{cfg: cfg, logger: logger, adapter: a}, nil
}

func (r *Registry) Adapter() interfaces.CRMAdapter {
	return r.adapter
}
