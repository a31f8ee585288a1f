// Package pending keeps chat turns whose reply was computed but could not be
// written to the history store, so the write can be retried without asking
// the agent again. Entries expire after a configurable TTL.
package pending
