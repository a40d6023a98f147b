package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"edgenode/internal/reading"
)

const (
	// SoundSpeedCMPerMicrosecond is the speed of sound in air, 340 m/s.
	SoundSpeedCMPerMicrosecond = 0.034
	// DefaultMaxRangeCM is the rated range of an HC-SR04 class sensor.
	DefaultMaxRangeCM = 400.0
	// DefaultEchoTimeout matches the classic pulseIn default.
	DefaultEchoTimeout = time.Second

	settleLow    = 2 * time.Microsecond
	triggerPulse = 10 * time.Microsecond
)

var (
	ErrNoEcho     = errors.New("no echo")
	ErrOutOfRange = errors.New("out of range")
)

// Echoer fires one ping and returns the round-trip time. A zero duration
// with a nil error means no echo came back.
type Echoer interface {
	Echo(ctx context.Context) (time.Duration, error)
}

// Distance converts an ultrasonic round trip into a one-way distance in cm.
// A zero round trip or one that maps beyond MaxRangeCM is Invalid.
type Distance struct {
	echo       Echoer
	maxRangeCM float64
}

func NewDistance(echo Echoer, maxRangeCM float64) *Distance {
	if maxRangeCM <= 0 {
		maxRangeCM = DefaultMaxRangeCM
	}
	return &Distance{echo: echo, maxRangeCM: maxRangeCM}
}

func (d *Distance) Sample(ctx context.Context) reading.Reading {
	if err := ctx.Err(); err != nil {
		return reading.Invalid(err)
	}
	rt, err := d.echo.Echo(ctx)
	if err != nil {
		return reading.Invalid(fmt.Errorf("distance: %w", err))
	}
	if rt <= 0 {
		return reading.Invalid(fmt.Errorf("distance: %w", ErrNoEcho))
	}
	cm := RoundTripToCM(rt)
	if cm > d.maxRangeCM {
		return reading.Invalid(fmt.Errorf("distance %.2f cm: %w", cm, ErrOutOfRange))
	}
	return reading.Valid(reading.Field{Quantity: reading.Distance, Value: cm, Unit: reading.UnitCentimeter})
}

// RoundTripToCM halves the echo time and scales it by the speed of sound.
func RoundTripToCM(rt time.Duration) float64 {
	us := float64(rt) / float64(time.Microsecond)
	return us * SoundSpeedCMPerMicrosecond / 2
}

// TriggerPin and EchoPin are satisfied by periph gpio.PinIO.
type TriggerPin interface {
	Out(l gpio.Level) error
}

type EchoPin interface {
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// GPIOEcho drives a trigger line and times the echo line's high pulse.
type GPIOEcho struct {
	trig    TriggerPin
	echo    EchoPin
	timeout time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

func NewGPIOEcho(trig TriggerPin, echo EchoPin, timeout time.Duration) *GPIOEcho {
	if timeout <= 0 {
		timeout = DefaultEchoTimeout
	}
	return &GPIOEcho{
		trig:    trig,
		echo:    echo,
		timeout: timeout,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

func (g *GPIOEcho) Echo(ctx context.Context) (time.Duration, error) {
	if err := g.trig.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("trigger low: %w", err)
	}
	g.sleep(settleLow)
	if err := g.trig.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("trigger high: %w", err)
	}
	g.sleep(triggerPulse)
	if err := g.trig.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("trigger low: %w", err)
	}

	deadline := g.now().Add(g.timeout)
	start, ok := g.waitLevel(ctx, gpio.High, deadline)
	if !ok {
		return 0, ctx.Err()
	}
	end, ok := g.waitLevel(ctx, gpio.Low, deadline)
	if !ok {
		return 0, ctx.Err()
	}
	return end.Sub(start), nil
}

func (g *GPIOEcho) waitLevel(ctx context.Context, want gpio.Level, deadline time.Time) (time.Time, bool) {
	for {
		if g.echo.Read() == want {
			return g.now(), true
		}
		if ctx.Err() != nil {
			return time.Time{}, false
		}
		remaining := deadline.Sub(g.now())
		if remaining <= 0 || !g.echo.WaitForEdge(remaining) {
			return time.Time{}, false
		}
	}
}
