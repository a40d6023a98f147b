// Package display is the node's local, write-only text surface.
package display

import (
	"log/slog"
	"sync"
)

const (
	Lines   = 2
	Columns = 16
)

// Display is best effort: callers never learn whether a write reached the glass.
type Display interface {
	Clear()
	SetLine(n int, text string)
}

// Show clears d and writes lines from the top. Extra lines are dropped.
func Show(d Display, lines ...string) {
	d.Clear()
	for i, l := range lines {
		if i >= Lines {
			break
		}
		d.SetLine(i, l)
	}
}

// Fit truncates or right-pads text to exactly width runes.
func Fit(text string, width int) string {
	r := []rune(text)
	if len(r) > width {
		return string(r[:width])
	}
	out := make([]rune, width)
	copy(out, r)
	for i := len(r); i < width; i++ {
		out[i] = ' '
	}
	return string(out)
}

// Log mirrors the display to a logger; it stands in for a panel on hosts
// without one.
type Log struct {
	logger *slog.Logger

	mu    sync.Mutex
	lines [Lines]string
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.lines = [Lines]string{}
	l.mu.Unlock()
}

func (l *Log) SetLine(n int, text string) {
	if n < 0 || n >= Lines {
		return
	}
	l.mu.Lock()
	l.lines[n] = text
	l.mu.Unlock()
	l.logger.Debug("display", "line", n, "text", text)
}

// Lines returns what the panel would currently show.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return []string{l.lines[0], l.lines[1]}
}

// Multi fans every write out to several displays.
type Multi []Display

func (m Multi) Clear() {
	for _, d := range m {
		d.Clear()
	}
}

func (m Multi) SetLine(n int, text string) {
	for _, d := range m {
		d.SetLine(n, text)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Clear()              {}
func (Nop) SetLine(int, string) {}
