package sensor

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/analog"

	"edgenode/internal/reading"
)

// ADC is the subset of analog.PinADC the moisture probe needs.
type ADC interface {
	Read() (analog.Sample, error)
}

// Moisture reads a resistive soil probe through an ADC channel. The raw count
// is reported as is; what counts as wet or dry is up to the reader.
type Moisture struct {
	adc ADC
}

func NewMoisture(adc ADC) *Moisture {
	return &Moisture{adc: adc}
}

func (m *Moisture) Sample(ctx context.Context) reading.Reading {
	if err := ctx.Err(); err != nil {
		return reading.Invalid(err)
	}
	s, err := m.adc.Read()
	if err != nil {
		return reading.Invalid(fmt.Errorf("moisture adc: %w", err))
	}
	return reading.Valid(reading.Field{
		Quantity: reading.Moisture,
		Value:    float64(s.Raw),
		Unit:     reading.UnitRaw,
	})
}
