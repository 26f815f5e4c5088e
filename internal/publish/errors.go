package publish

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing on a disconnected client.
	ErrNotConnected = errors.New("publish: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("publish: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("publish: publish failed")

	// ErrInvalidQoS is returned when an invalid QoS level is configured.
	ErrInvalidQoS = errors.New("publish: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when the record topic is empty.
	ErrInvalidTopic = errors.New("publish: topic cannot be empty")
)
