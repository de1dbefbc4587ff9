// Package stats holds the statistics stages report: named numeric and
// percentage counters, moving averages feeding completion estimates, and
// sinks that persist or export snapshots.
package stats

import (
	"fmt"
	"time"
)

// Kind tells sinks how to present a value.
type Kind int

const (
	KindCount Kind = iota
	KindBytes
	KindDuration // seconds
	KindPercentage
	KindRate // per second
)

func (k Kind) String() string {
	switch k {
	case KindCount:
		return "count"
	case KindBytes:
		return "bytes"
	case KindDuration:
		return "seconds"
	case KindPercentage:
		return "percent"
	case KindRate:
		return "per_second"
	default:
		return "unknown"
	}
}

// Stat is one named statistic.
type Stat struct {
	Name  string
	Value float64
	Kind  Kind
}

func Count(name string, v int64) Stat   { return Stat{Name: name, Value: float64(v), Kind: KindCount} }
func Bytes(name string, v int64) Stat   { return Stat{Name: name, Value: float64(v), Kind: KindBytes} }
func Rate(name string, v float64) Stat  { return Stat{Name: name, Value: v, Kind: KindRate} }
func Seconds(name string, d time.Duration) Stat {
	return Stat{Name: name, Value: d.Seconds(), Kind: KindDuration}
}

// Percentage reports v as a fraction in [0, 1].
func Percentage(name string, v float64) Stat {
	return Stat{Name: name, Value: v, Kind: KindPercentage}
}

func (s Stat) String() string {
	switch s.Kind {
	case KindPercentage:
		return fmt.Sprintf("%s=%.1f%%", s.Name, s.Value*100)
	case KindBytes:
		return fmt.Sprintf("%s=%s", s.Name, FormatBytes(int64(s.Value)))
	case KindDuration:
		return fmt.Sprintf("%s=%s", s.Name, time.Duration(s.Value*float64(time.Second)))
	default:
		return fmt.Sprintf("%s=%g", s.Name, s.Value)
	}
}

// Find returns the first stat called name.
func Find(stats []Stat, name string) (Stat, bool) {
	for _, s := range stats {
		if s.Name == name {
			return s, true
		}
	}
	return Stat{}, false
}
