package pipeline

// Outcome carries a stage value that is either authoritative (the agent
// produced it) or degraded (a placeholder substituted after a failure).
// The value is only reachable through accessors that expose which one it is.
type Outcome[T any] struct {
	value    T
	degraded bool
	cause    error
}

// Real wraps a value produced by the agent.
func Real[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Degraded wraps a placeholder produced because of cause.
func Degraded[T any](v T, cause error) Outcome[T] {
	return Outcome[T]{value: v, degraded: true, cause: cause}
}

// Authoritative returns the value if it came from the agent.
func (o Outcome[T]) Authoritative() (T, bool) {
	if o.degraded {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Fallback returns the placeholder if the outcome is degraded.
func (o Outcome[T]) Fallback() (T, bool) {
	if !o.degraded {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Cause returns the failure that led to a degraded outcome.
func (o Outcome[T]) Cause() error { return o.cause }

// Value returns the value along with whether it is authoritative.
func (o Outcome[T]) Value() (v T, authoritative bool) {
	return o.value, !o.degraded
}

// IsDegraded reports whether the value is a placeholder.
func (o Outcome[T]) IsDegraded() bool { return o.degraded }
