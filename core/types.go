package core

import (
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crmarques/funcvault/config"
	"github.com/crmarques/funcvault/secrets"
)

// FuncvaultContext bundles the assembled services behind the public
// interfaces so callers depend on contracts, not providers.
type FuncvaultContext struct {
	Context *config.Context
	Secrets secrets.Manager
	Store   secrets.Repository
	Events  secrets.EventLogger
}

type BootstrapConfig struct {
	// ContextPath locates the context file. Empty falls back to the
	// FUNCVAULT_CONTEXT_FILE environment variable, then the default path.
	ContextPath string

	// Metrics receives the event instrumentation. Nil disables metrics.
	Metrics prometheus.Registerer

	Logger logr.Logger
}
