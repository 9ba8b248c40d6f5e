// Package kafka implements events.Publisher and events.Source on a Kafka
// topic using segmentio/kafka-go.
//
// The consumer uses a consumer group so offsets are persisted by the
// broker; a restarted subscriber resumes from the last committed offset.
// Offsets are committed after the handler returns, giving at-least-once
// delivery.
package kafka
