// Package events carries job terminal events from the executor to the
// notification subscriber.
//
// Publisher and Source are the two ends of the bridge. The production
// implementation lives in internal/platform/kafka; MemoryBus implements
// both ends in process for development and tests.
package events
