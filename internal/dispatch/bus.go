// Package dispatch is the event bus (C6): outbound, at-least-once
// emission of dispatch lifecycle events to drivers and riders. The bus
// is allowed to silently drop events addressed to an unknown or stale
// push address; the Dispatch record, not delivery, is ground truth.
package dispatch

import "context"

// Bus is the single operation every backend implements: emit an event
// to an address, best-effort, carrying a correlation id for tracing.
// The offer scheduler passes the dispatch id as that correlation id.
type Bus interface {
	Emit(ctx context.Context, address, event string, payload any, correlationID string) error
}
