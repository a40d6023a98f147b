package format

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"edgenode/internal/reading"
)

var ErrUnrecognized = errors.New("format: unrecognized message")

// Parse reads a wire message produced by l.Format.
func (l Layout) Parse(msg string) (reading.Reading, error) {
	msg = strings.TrimRight(msg, "\r\n")

	parts := []string{msg}
	if l.Separator != "" {
		parts = strings.Split(msg, l.Separator)
	}
	if len(parts) != len(l.Fields) {
		return reading.Reading{}, fmt.Errorf("%w: %d fields, want %d", ErrUnrecognized, len(parts), len(l.Fields))
	}

	fields := make([]reading.Field, 0, len(l.Fields))
	for i, ff := range l.Fields {
		p := parts[i]
		prefix := ff.WireLabel + ": "
		if !strings.HasPrefix(p, prefix) || !strings.HasSuffix(p, ff.Suffix) {
			return reading.Reading{}, fmt.Errorf("%w: %q is not %s", ErrUnrecognized, p, ff.Quantity)
		}
		num := strings.TrimSuffix(strings.TrimPrefix(p, prefix), ff.Suffix)
		v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return reading.Reading{}, fmt.Errorf("%w: %s value %q: %w", ErrUnrecognized, ff.Quantity, num, err)
		}
		fields = append(fields, reading.Field{Quantity: ff.Quantity, Value: v, Unit: ff.Unit})
	}
	return reading.Valid(fields...), nil
}

// ParseAny tries every built-in layout and returns the first match.
func ParseAny(msg string) (Layout, reading.Reading, error) {
	for _, l := range Layouts() {
		r, err := l.Parse(msg)
		if err == nil {
			return l, r, nil
		}
	}
	return Layout{}, reading.Reading{}, fmt.Errorf("%w: %q", ErrUnrecognized, msg)
}
