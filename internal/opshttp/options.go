package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/health"
)

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       health.Probe
	Readiness    health.Probe
	UseRecoverMW bool
	OnPanic      func() // called for each recovered panic, e.g. to bump a counter
	// AllowPublic skips the private-network check, for deployments where the
	// ops port sits behind its own firewall rule.
	AllowPublic bool
}
