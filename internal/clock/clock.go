// Package clock abstracts wall-clock time so batch jobs can be tested deterministically.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func NewSystemClock() *SystemClock { return &SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(func() Clock { return NewSystemClock() }),
)
