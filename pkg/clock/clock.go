package clock

import (
	bclock "github.com/benbjohnson/clock"
)

// Clock is the time source used by the driver. Tests swap in a Mock.
type Clock = bclock.Clock

// Mock is a manually advanced clock.
type Mock = bclock.Mock

// Timer mirrors time.Timer for both real and mocked clocks.
type Timer = bclock.Timer

// New returns a clock backed by the wall clock.
func New() Clock {
	return bclock.New()
}

// NewMock returns a clock starting at the zero time.
func NewMock() *Mock {
	return bclock.NewMock()
}
