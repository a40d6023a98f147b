package display

import (
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"
)

// DefaultLCDAddress is the usual PCF8574 backpack address.
const DefaultLCDAddress = 0x27

// panel is the subset of hd44780i2c.Device the LCD uses.
type panel interface {
	ClearDisplay()
	SetCursor(x, y uint8)
	Print(data []byte)
}

// LCD drives a 16x2 HD44780 behind an I2C backpack. A periph i2c.Bus
// satisfies drivers.I2C, so the panel shares the sensor bus.
type LCD struct {
	mu  sync.Mutex
	dev panel
}

func NewLCD(bus drivers.I2C, addr uint8) (*LCD, error) {
	if addr == 0 {
		addr = DefaultLCDAddress
	}
	dev := hd44780i2c.New(bus, addr)
	if err := dev.Configure(hd44780i2c.Config{Width: Columns, Height: Lines}); err != nil {
		return nil, fmt.Errorf("lcd at 0x%02x: %w", addr, err)
	}
	dev.BacklightOn(true)
	slog.Debug("lcd configured", "addr", fmt.Sprintf("0x%02x", addr))
	return &LCD{dev: &dev}, nil
}

func (l *LCD) Clear() {
	l.mu.Lock()
	l.dev.ClearDisplay()
	l.mu.Unlock()
}

// SetLine overwrites a whole row so stale characters never survive a shorter text.
// The controller's ROM has no Hangul glyphs; callers keep display text ASCII.
func (l *LCD) SetLine(n int, text string) {
	if n < 0 || n >= Lines {
		return
	}
	l.mu.Lock()
	l.dev.SetCursor(0, uint8(n))
	l.dev.Print([]byte(Fit(text, Columns)))
	l.mu.Unlock()
}
