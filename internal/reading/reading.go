// Package reading holds the tagged sample produced once per telemetry cycle.
package reading

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoReading marks a sample the sensor could not produce.
var ErrNoReading = errors.New("no reading")

type Quantity string

const (
	Moisture    Quantity = "moisture"
	Temperature Quantity = "temperature"
	Humidity    Quantity = "humidity"
	Distance    Quantity = "distance"
)

type Unit string

const (
	UnitRaw        Unit = ""
	UnitCelsius    Unit = "C"
	UnitPercent    Unit = "%"
	UnitCentimeter Unit = "cm"
)

// Field is one measured value with its unit.
type Field struct {
	Quantity Quantity `json:"quantity"`
	Value    float64  `json:"value"`
	Unit     Unit     `json:"unit,omitempty"`
}

// Reading is either Valid (one or more fields) or Invalid (a cause).
// The zero value is Invalid.
type Reading struct {
	fields []Field
	cause  error
	At     time.Time
}

// Valid builds a valid reading stamped with the current time.
func Valid(fields ...Field) Reading {
	out := make([]Field, len(fields))
	copy(out, fields)
	return Reading{fields: out, At: time.Now()}
}

// Invalid builds an invalid reading. The cause always matches ErrNoReading.
func Invalid(cause error) Reading {
	switch {
	case cause == nil:
		cause = ErrNoReading
	case !errors.Is(cause, ErrNoReading):
		cause = fmt.Errorf("%w: %w", ErrNoReading, cause)
	}
	return Reading{cause: cause, At: time.Now()}
}

func (r Reading) IsValid() bool {
	return r.cause == nil && len(r.fields) > 0
}

// Err returns nil for a valid reading.
func (r Reading) Err() error {
	if r.IsValid() {
		return nil
	}
	if r.cause == nil {
		return ErrNoReading
	}
	return r.cause
}

// Fields returns a copy of the measured fields; empty when invalid.
func (r Reading) Fields() []Field {
	if !r.IsValid() {
		return nil
	}
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r Reading) Field(q Quantity) (Field, bool) {
	if !r.IsValid() {
		return Field{}, false
	}
	for _, f := range r.fields {
		if f.Quantity == q {
			return f, true
		}
	}
	return Field{}, false
}

// Finite reports whether v is a usable number (not NaN or ±Inf).
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
