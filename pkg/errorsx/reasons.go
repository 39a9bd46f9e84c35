package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Terminal until the environment, the user or the configuration changes.
	ReasonCapability ReasonCode = "capability"
	ReasonPermission ReasonCode = "permission"
	ReasonConfig     ReasonCode = "config"

	// Logged, never fatal to a session.
	ReasonProtocol ReasonCode = "protocol"

	// Retried by the owning component.
	ReasonTransport ReasonCode = "transport"
	ReasonTimeout   ReasonCode = "timeout"

	ReasonBusy      ReasonCode = "busy"
	ReasonCanceled  ReasonCode = "canceled"
	ReasonDestroyed ReasonCode = "destroyed"
	ReasonExhausted ReasonCode = "exhausted"
)

// Retryable reports whether failures with this reason are retried automatically.
func (r ReasonCode) Retryable() bool {
	return r == ReasonTransport || r == ReasonTimeout
}
