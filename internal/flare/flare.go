// Package flare provides the flare-event labeling engine.
// This package parses NGDC/GOES fixed-width flare catalog records and
// resolves the dominant flare class for an image timestamp using
// class-specific prediction windows.
package flare

import (
	"fmt"
	"time"
)

// =============================================================================
// Flare Classes
// =============================================================================

// Class is a GOES X-ray flare class letter.
type Class byte

const (
	NoFlare Class = 0 // No event window covers the timestamp
	ClassA  Class = 'A'
	ClassB  Class = 'B'
	ClassC  Class = 'C'
	ClassM  Class = 'M'
	ClassX  Class = 'X'
)

// Classes lists every known class, most dominant first.
var Classes = [...]Class{ClassX, ClassM, ClassC, ClassB, ClassA}

// Valid reports whether c is one of the five known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassA, ClassB, ClassC, ClassM, ClassX:
		return true
	}
	return false
}

// Priority returns the dominance rank of c (X=5 ... A=1, 0 for unknown).
func (c Class) Priority() int {
	switch c {
	case ClassX:
		return 5
	case ClassM:
		return 4
	case ClassC:
		return 3
	case ClassB:
		return 2
	case ClassA:
		return 1
	}
	return 0
}

func (c Class) String() string {
	if !c.Valid() {
		return ""
	}
	return string(rune(c))
}

// ParseClass converts a single class letter ("X", "m", ...) to a Class.
func ParseClass(s string) (Class, error) {
	if len(s) == 1 {
		c := Class(s[0])
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c.Valid() {
			return c, nil
		}
	}
	return NoFlare, fmt.Errorf("unknown flare class %q", s)
}

// =============================================================================
// Prediction Windows
// =============================================================================

// Window is how far before and after an event its class label extends.
type Window struct {
	Before time.Duration
	After  time.Duration
}

// Tables holds the per-class prediction windows. A Tables value is
// immutable once built and is passed by value.
type Tables struct {
	windows [len(Classes)]Window
	present [len(Classes)]bool
}

// DefaultTables returns the standard windows:
// X 24h/24h, M 12h/12h, C 6h/6h, B 12h/12h, A 24h/24h.
func DefaultTables() Tables {
	return NewTables(map[Class]Window{
		ClassX: {Before: 24 * time.Hour, After: 24 * time.Hour},
		ClassM: {Before: 12 * time.Hour, After: 12 * time.Hour},
		ClassC: {Before: 6 * time.Hour, After: 6 * time.Hour},
		ClassB: {Before: 12 * time.Hour, After: 12 * time.Hour},
		ClassA: {Before: 24 * time.Hour, After: 24 * time.Hour},
	})
}

// NewTables builds a table from windows. Classes absent from the map have
// no window, and events of those classes never produce a label.
func NewTables(windows map[Class]Window) Tables {
	var t Tables
	for c, w := range windows {
		i := classIndex(c)
		if i < 0 {
			continue
		}
		t.windows[i] = w
		t.present[i] = true
	}
	return t
}

// Window returns the prediction window for c.
func (t Tables) Window(c Class) (Window, bool) {
	i := classIndex(c)
	if i < 0 || !t.present[i] {
		return Window{}, false
	}
	return t.windows[i], true
}

// classIndex maps a class to its slot in Classes (priority order).
func classIndex(c Class) int {
	switch c {
	case ClassX:
		return 0
	case ClassM:
		return 1
	case ClassC:
		return 2
	case ClassB:
		return 3
	case ClassA:
		return 4
	}
	return -1
}

// =============================================================================
// Events
// =============================================================================

// Event is one parsed catalog record.
type Event struct {
	Time  time.Time // Event anchor (start or peak), UTC
	Class Class
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Time.Format("2006-01-02 15:04"), e.Class)
}
