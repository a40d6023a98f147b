package sensor

import (
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// Host owns the periph host drivers and the shared I2C bus. The sensor and
// the display both hang off the same bus.
type Host struct {
	busName string
	bus     i2c.BusCloser
	closers []func() error
}

// OpenHost initialises periph. The I2C bus is opened on first use; an empty
// name picks the default bus, usually /dev/i2c-1.
func OpenHost(busName string) (*Host, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	return &Host{busName: busName}, nil
}

func (h *Host) Bus() (i2c.Bus, error) {
	if h.bus != nil {
		return h.bus, nil
	}
	bus, err := i2creg.Open(h.busName)
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", h.busName, err)
	}
	h.bus = bus
	return bus, nil
}

// Close halts every device opened through h, then closes the bus.
func (h *Host) Close() error {
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			slog.Warn("device halt", "error", err)
		}
	}
	h.closers = nil
	if h.bus == nil {
		return nil
	}
	err := h.bus.Close()
	h.bus = nil
	return err
}

// Climate opens a BME280 on the shared bus.
func (h *Host) Climate(addr uint16) (*Climate, error) {
	bus, err := h.Bus()
	if err != nil {
		return nil, err
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bme280 at 0x%02x: %w", addr, err)
	}
	h.closers = append(h.closers, dev.Halt)
	return NewClimate(FromEnv(dev)), nil
}

// Moisture opens channel 0 of an ADS1115 on the shared bus.
func (h *Host) Moisture(addr uint16) (*Moisture, error) {
	bus, err := h.Bus()
	if err != nil {
		return nil, err
	}
	opts := ads1x15.DefaultOpts
	opts.I2cAddress = addr
	adc, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("ads1115 at 0x%02x: %w", addr, err)
	}
	pin, err := adc.PinForChannel(ads1x15.Channel0, 5*physic.Volt, 1*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		_ = adc.Halt()
		return nil, fmt.Errorf("ads1115 channel 0: %w", err)
	}
	h.closers = append(h.closers, pin.Halt, adc.Halt)
	return NewMoisture(pin), nil
}

// Distance resolves the trigger and echo lines by name (e.g. "GPIO14").
func (h *Host) Distance(trigName, echoName string, timeout time.Duration, maxRangeCM float64) (*Distance, error) {
	trig := gpioreg.ByName(trigName)
	if trig == nil {
		return nil, fmt.Errorf("trigger pin %q not found", trigName)
	}
	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, fmt.Errorf("echo pin %q not found", echoName)
	}
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("trigger pin %s: %w", trigName, err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("echo pin %s: %w", echoName, err)
	}
	h.closers = append(h.closers, echo.Halt, trig.Halt)
	return NewDistance(NewGPIOEcho(trig, echo, timeout), maxRangeCM), nil
}
