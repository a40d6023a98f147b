// Package sensor wraps one physical measurement per node variant.
//
// Every implementation returns a reading.Reading: Valid with its fields, or
// Invalid with the cause. None of them return an error or panic; a failed
// acquisition is a normal outcome of a cycle.
package sensor

import (
	"context"

	"edgenode/internal/reading"
)

type Sensor interface {
	Sample(ctx context.Context) reading.Reading
}

// Func adapts a plain function to Sensor.
type Func func(ctx context.Context) reading.Reading

func (f Func) Sample(ctx context.Context) reading.Reading { return f(ctx) }
