package app

import (
	"fmt"
	"log/slog"
	"time"

	"edgenode/internal/config"
	"edgenode/internal/display"
	"edgenode/internal/link"
	"edgenode/internal/sensor"
)

// announceHold is how long the joined address stays on the display.
var announceHold = 2 * time.Second

// OpenHardware opens the sensor for cfg.Variant and the configured display.
func OpenHardware(cfg config.Node) (Hardware, error) {
	h, err := sensor.OpenHost(cfg.I2CBus)
	if err != nil {
		return Hardware{}, err
	}
	fail := func(err error) (Hardware, error) {
		if cerr := h.Close(); cerr != nil {
			slog.Warn("close host", "error", cerr)
		}
		return Hardware{}, err
	}

	var s sensor.Sensor
	switch cfg.Variant {
	case "moisture":
		s, err = h.Moisture(cfg.ADS1115Address)
	case "climate":
		s, err = h.Climate(cfg.BME280Address)
	case "distance":
		s, err = h.Distance(cfg.TrigPin, cfg.EchoPin, cfg.EchoTimeout, cfg.MaxRangeCM)
	default:
		err = fmt.Errorf("unknown variant %q", cfg.Variant)
	}
	if err != nil {
		return fail(err)
	}

	logDisplay := display.NewLog(slog.Default().With("component", "display"))
	var d display.Display = logDisplay
	if cfg.Display == "lcd" {
		bus, err := h.Bus()
		if err != nil {
			return fail(err)
		}
		lcd, err := display.NewLCD(bus, uint8(cfg.LCDAddress))
		if err != nil {
			return fail(err)
		}
		d = display.Multi{lcd, logDisplay}
	}

	return Hardware{
		Sensor:     s,
		Display:    d,
		Associator: link.NewNetAssociator(cfg.LinkInterface),
		Close:      h.Close,
	}, nil
}
