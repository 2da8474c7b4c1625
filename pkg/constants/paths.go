package constants

// Well-known route paths shared between the router and deploy manifests.
const (
	PathHealth    = "/health"
	PathReady     = "/ready"
	PathMetrics   = "/metrics"
	PathWSSession = "/ws/session"
)
