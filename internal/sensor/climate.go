package sensor

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"edgenode/internal/reading"
)

var errNotNumeric = errors.New("not a number")

// ClimateSource returns one temperature/humidity pair. Transducers that
// signal failure with NaN are handled the same as an error.
type ClimateSource interface {
	ReadClimate() (celsius float64, relHumidity float64, err error)
}

// Climate is the temperature + humidity combo sensor. Both fields must be
// numeric or the whole reading is Invalid.
type Climate struct {
	src ClimateSource
}

func NewClimate(src ClimateSource) *Climate {
	return &Climate{src: src}
}

func (c *Climate) Sample(ctx context.Context) reading.Reading {
	if err := ctx.Err(); err != nil {
		return reading.Invalid(err)
	}
	t, h, err := c.src.ReadClimate()
	if err != nil {
		return reading.Invalid(fmt.Errorf("climate: %w", err))
	}
	if !reading.Finite(t) {
		return reading.Invalid(fmt.Errorf("climate temperature: %w", errNotNumeric))
	}
	if !reading.Finite(h) {
		return reading.Invalid(fmt.Errorf("climate humidity: %w", errNotNumeric))
	}
	return reading.Valid(
		reading.Field{Quantity: reading.Temperature, Value: t, Unit: reading.UnitCelsius},
		reading.Field{Quantity: reading.Humidity, Value: h, Unit: reading.UnitPercent},
	)
}

// EnvSenser is implemented by periph environmental sensors such as bmxx80.Dev.
type EnvSenser interface {
	Sense(env *physic.Env) error
}

type envSource struct {
	dev EnvSenser
}

// FromEnv adapts a periph environmental sensor to ClimateSource.
func FromEnv(dev EnvSenser) ClimateSource {
	return envSource{dev: dev}
}

func (s envSource) ReadClimate() (float64, float64, error) {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return 0, 0, err
	}
	return env.Temperature.Celsius(), float64(env.Humidity) / float64(physic.PercentRH), nil
}
