// Package timeunit converts on-disk timestamp encodings to and from epoch
// nanoseconds without losing precision.
package timeunit

import (
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// Unit is the resolution of an epoch timestamp.
type Unit string

const (
	Seconds      Unit = "s"
	Milliseconds Unit = "ms"
	Microseconds Unit = "us"
	Nanoseconds  Unit = "ns"
)

// ParseUnit accepts the short unit names plus common long-form aliases.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "sec", "secs", "second", "seconds":
		return Seconds, nil
	case "ms", "milli", "millis", "millisecond", "milliseconds":
		return Milliseconds, nil
	case "us", "µs", "μs", "micro", "micros", "microsecond", "microseconds":
		return Microseconds, nil
	case "ns", "nano", "nanos", "nanosecond", "nanoseconds":
		return Nanoseconds, nil
	}
	return "", fmt.Errorf("%w: unknown time unit %q", models.ErrMalformed, s)
}

// Exponent is the power of ten separating this unit from nanoseconds.
func (u Unit) Exponent() int32 {
	switch u {
	case Seconds:
		return 9
	case Milliseconds:
		return 6
	case Microseconds:
		return 3
	default:
		return 0
	}
}

// NanoMultiplier is the number of nanoseconds in one unit.
func (u Unit) NanoMultiplier() int64 {
	m := int64(1)
	for range u.Exponent() {
		m *= 10
	}
	return m
}

// Valid reports whether u is one of the supported units.
func (u Unit) Valid() bool {
	switch u {
	case Seconds, Milliseconds, Microseconds, Nanoseconds:
		return true
	}
	return false
}

func (u Unit) String() string { return string(u) }

// FromArrow maps an arrow time unit.
func FromArrow(tu arrow.TimeUnit) Unit {
	switch tu {
	case arrow.Second:
		return Seconds
	case arrow.Millisecond:
		return Milliseconds
	case arrow.Microsecond:
		return Microseconds
	default:
		return Nanoseconds
	}
}

// Arrow maps u to an arrow time unit.
func (u Unit) Arrow() arrow.TimeUnit {
	switch u {
	case Seconds:
		return arrow.Second
	case Milliseconds:
		return arrow.Millisecond
	case Microseconds:
		return arrow.Microsecond
	default:
		return arrow.Nanosecond
	}
}

// FromTime returns t as epoch nanoseconds.
func FromTime(t time.Time) int64 {
	return t.UnixNano()
}
