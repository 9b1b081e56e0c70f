package flare

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anchor = time.Date(2004, 12, 31, 22, 22, 0, 0, time.UTC)

func TestDefaultTables(t *testing.T) {
	tables := DefaultTables()

	want := map[Class]time.Duration{
		ClassX: 24 * time.Hour,
		ClassM: 12 * time.Hour,
		ClassC: 6 * time.Hour,
		ClassB: 12 * time.Hour,
		ClassA: 24 * time.Hour,
	}
	for c, d := range want {
		w, ok := tables.Window(c)
		require.True(t, ok, c.String())
		assert.Equal(t, d, w.Before, c.String())
		assert.Equal(t, d, w.After, c.String())
	}

	_, ok := tables.Window(Class('Z'))
	assert.False(t, ok)
}

func TestClassPriorityOrder(t *testing.T) {
	for i := 1; i < len(Classes); i++ {
		assert.Greater(t, Classes[i-1].Priority(), Classes[i].Priority())
	}
	assert.Equal(t, 0, NoFlare.Priority())
	assert.Equal(t, "", NoFlare.String())
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass("m")
	require.NoError(t, err)
	assert.Equal(t, ClassM, c)

	_, err = ParseClass("Q")
	assert.Error(t, err)
	_, err = ParseClass("XX")
	assert.Error(t, err)
}

func TestAssignLabel_Scenarios(t *testing.T) {
	tables := DefaultTables()
	events := []Event{{Time: anchor, Class: ClassB}}

	// 5h38m after the event, inside the 12h window
	assert.Equal(t, ClassB, AssignLabel(time.Date(2005, 1, 1, 4, 0, 0, 0, time.UTC), events, tables))

	// 12h38m after the event, outside the window
	assert.Equal(t, NoFlare, AssignLabel(time.Date(2005, 1, 1, 11, 0, 0, 0, time.UTC), events, tables))
}

func TestAssignLabel_WindowBounds(t *testing.T) {
	tables := DefaultTables()

	for _, c := range Classes {
		t.Run(c.String(), func(t *testing.T) {
			w, _ := tables.Window(c)
			events := []Event{{Time: anchor, Class: c}}

			assert.Equal(t, c, AssignLabel(anchor, events, tables), "anchor")
			assert.Equal(t, c, AssignLabel(anchor.Add(-w.Before), events, tables), "window start")
			assert.Equal(t, c, AssignLabel(anchor.Add(w.After), events, tables), "window end")
			assert.Equal(t, NoFlare, AssignLabel(anchor.Add(-w.Before-time.Minute), events, tables), "before start")
			assert.Equal(t, NoFlare, AssignLabel(anchor.Add(w.After+time.Nanosecond), events, tables), "after end")
		})
	}
}

func TestAssignLabel_PriorityIgnoresOrder(t *testing.T) {
	tables := DefaultTables()
	x := Event{Time: anchor, Class: ClassX}
	b := Event{Time: anchor, Class: ClassB}
	query := anchor.Add(time.Hour)

	assert.Equal(t, ClassX, AssignLabel(query, []Event{x, b}, tables))
	assert.Equal(t, ClassX, AssignLabel(query, []Event{b, x}, tables))
}

func TestAssignLabel_NearerLowerClassLoses(t *testing.T) {
	tables := DefaultTables()
	events := []Event{
		{Time: anchor.Add(-20 * time.Hour), Class: ClassX},
		{Time: anchor, Class: ClassC},
	}
	assert.Equal(t, ClassX, AssignLabel(anchor, events, tables))

	// Past the X window only the C event remains.
	assert.Equal(t, ClassC, AssignLabel(anchor.Add(5*time.Hour), events, tables))
}

func TestAssignLabel_NoEvents(t *testing.T) {
	assert.Equal(t, NoFlare, AssignLabel(anchor, nil, DefaultTables()))
}

func TestAssignLabel_ClassWithoutWindowIgnored(t *testing.T) {
	tables := NewTables(map[Class]Window{
		ClassB: {Before: time.Hour, After: time.Hour},
	})
	events := []Event{
		{Time: anchor, Class: ClassX},
		{Time: anchor, Class: ClassB},
	}
	assert.Equal(t, ClassB, AssignLabel(anchor, events, tables))
	assert.Equal(t, ClassB, NewIndex(events, tables).Label(anchor))
}

func TestAssignLabel_AsymmetricWindow(t *testing.T) {
	tables := NewTables(map[Class]Window{
		ClassM: {Before: 24 * time.Hour, After: time.Hour},
	})
	events := []Event{{Time: anchor, Class: ClassM}}

	assert.Equal(t, ClassM, AssignLabel(anchor.Add(-23*time.Hour), events, tables))
	assert.Equal(t, NoFlare, AssignLabel(anchor.Add(2*time.Hour), events, tables))

	idx := NewIndex(events, tables)
	assert.Equal(t, ClassM, idx.Label(anchor.Add(-23*time.Hour)))
	assert.Equal(t, NoFlare, idx.Label(anchor.Add(2*time.Hour)))
}

func TestIndex_MatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tables := DefaultTables()
	base := time.Date(2013, 9, 10, 0, 0, 0, 0, time.UTC)
	const span = 60 * 24 * 60 // 60 days in minutes

	for round := 0; round < 20; round++ {
		events := make([]Event, rng.Intn(40))
		for i := range events {
			events[i] = Event{
				Time:  base.Add(time.Duration(rng.Intn(span)) * time.Minute),
				Class: Classes[rng.Intn(len(Classes))],
			}
		}

		idx := NewIndex(events, tables)
		require.Equal(t, len(events), idx.Len())

		for q := 0; q < 200; q++ {
			query := base.Add(time.Duration(rng.Intn(span+2*24*60)-24*60) * time.Minute)
			require.Equal(t, AssignLabel(query, events, tables), idx.Label(query),
				"round %d query %s", round, query)
		}

		// Exact anchors are always candidates.
		for _, ev := range events {
			got := idx.Label(ev.Time)
			assert.GreaterOrEqual(t, got.Priority(), ev.Class.Priority())
		}
	}
}

func TestIndex_Counts(t *testing.T) {
	events := []Event{
		{Time: anchor, Class: ClassX},
		{Time: anchor, Class: ClassC},
		{Time: anchor.Add(time.Hour), Class: ClassC},
	}
	counts := NewIndex(events, DefaultTables()).Counts()

	assert.Equal(t, 1, counts[ClassX])
	assert.Equal(t, 2, counts[ClassC])
	assert.Equal(t, 0, counts[ClassA])
}
