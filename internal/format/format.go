// Package format renders readings as wire messages and display lines.
//
// The wire layout (labels, field order, unit suffixes) is what the collector
// parses, so it must not change between releases.
package format

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"edgenode/internal/reading"
)

var (
	ErrInvalidReading = errors.New("format: invalid reading")
	ErrMissingField   = errors.New("format: missing field")
	ErrUnknownVariant = errors.New("format: unknown variant")
)

// DisplayError is shown on the first display line when a sample fails.
const DisplayError = "Sensor error"

// Message is one wire payload. It has no identity beyond its text.
type Message string

func (m Message) String() string { return string(m) }
func (m Message) Bytes() []byte  { return []byte(m) }

// FieldFormat describes how one quantity is written on the wire and on the display.
type FieldFormat struct {
	Quantity     reading.Quantity
	Unit         reading.Unit
	WireLabel    string
	DisplayLabel string
	// Suffix follows the value verbatim, e.g. " C".
	Suffix           string
	WirePrecision    int
	DisplayPrecision int
}

// Layout is the per-variant message shape.
type Layout struct {
	Variant string
	// Title heads the display when the layout has a single field.
	Title     string
	Fields    []FieldFormat
	Separator string
}

var (
	MoistureLayout = Layout{
		Variant: "moisture",
		Title:   "Moisture:",
		Fields: []FieldFormat{
			{Quantity: reading.Moisture, Unit: reading.UnitRaw, WireLabel: "토양 수분", DisplayLabel: "Moisture"},
		},
	}

	ClimateLayout = Layout{
		Variant: "climate",
		Fields: []FieldFormat{
			{Quantity: reading.Temperature, Unit: reading.UnitCelsius, WireLabel: "온도", DisplayLabel: "Temp", Suffix: " C", WirePrecision: 2, DisplayPrecision: 1},
			{Quantity: reading.Humidity, Unit: reading.UnitPercent, WireLabel: "습도", DisplayLabel: "Humi", Suffix: " %", WirePrecision: 2, DisplayPrecision: 1},
		},
		Separator: " / ",
	}

	DistanceLayout = Layout{
		Variant: "distance",
		Title:   "Distance:",
		Fields: []FieldFormat{
			{Quantity: reading.Distance, Unit: reading.UnitCentimeter, WireLabel: "거리", DisplayLabel: "Dist", Suffix: " cm", WirePrecision: 2, DisplayPrecision: 2},
		},
	}
)

// LayoutFor returns the built-in layout for a node variant.
func LayoutFor(variant string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case MoistureLayout.Variant:
		return MoistureLayout, nil
	case ClimateLayout.Variant:
		return ClimateLayout, nil
	case DistanceLayout.Variant:
		return DistanceLayout, nil
	default:
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}

// Layouts lists every built-in layout.
func Layouts() []Layout {
	return []Layout{MoistureLayout, ClimateLayout, DistanceLayout}
}

// Format builds the wire message. It is only defined for valid readings.
func (l Layout) Format(r reading.Reading) (Message, error) {
	if !r.IsValid() {
		return "", ErrInvalidReading
	}
	parts := make([]string, 0, len(l.Fields))
	for _, ff := range l.Fields {
		f, ok := r.Field(ff.Quantity)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingField, ff.Quantity)
		}
		parts = append(parts, ff.WireLabel+": "+Number(f.Value, ff.WirePrecision)+ff.Suffix)
	}
	return Message(strings.Join(parts, l.Separator)), nil
}

// DisplayLines renders the reading for the two-line display. Invalid readings
// render the error indicator.
func (l Layout) DisplayLines(r reading.Reading) []string {
	if !r.IsValid() {
		return []string{DisplayError}
	}
	if len(l.Fields) == 1 {
		ff := l.Fields[0]
		f, ok := r.Field(ff.Quantity)
		if !ok {
			return []string{DisplayError}
		}
		return []string{l.Title, Number(f.Value, ff.DisplayPrecision) + ff.Suffix}
	}
	lines := make([]string, 0, len(l.Fields))
	for _, ff := range l.Fields {
		f, ok := r.Field(ff.Quantity)
		if !ok {
			return []string{DisplayError}
		}
		lines = append(lines, ff.DisplayLabel+": "+Number(f.Value, ff.DisplayPrecision)+ff.Suffix)
	}
	return lines
}

// Number renders v rounded to prec decimal places.
func Number(v float64, prec int) string {
	if prec < 0 {
		prec = 0
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}
