package flare

import (
	"sort"
	"time"
)

// AssignLabel returns the dominant class among events whose prediction
// window contains t, or NoFlare when no window does.
//
// A window is [event-Before, event+After], inclusive at both ends. Events
// of a class without a window are ignored. Ties are broken only by class
// priority; the best candidate is replaced only by a strictly higher one.
func AssignLabel(t time.Time, events []Event, tables Tables) Class {
	best := NoFlare
	bestPriority := 0

	for _, ev := range events {
		w, ok := tables.Window(ev.Class)
		if !ok {
			continue
		}

		start := ev.Time.Add(-w.Before)
		end := ev.Time.Add(w.After)
		if t.Before(start) || t.After(end) {
			continue
		}

		if p := ev.Class.Priority(); p > bestPriority {
			best = ev.Class
			bestPriority = p
		}
	}

	return best
}

// Index answers the same question as AssignLabel without scanning every
// event per query. Event anchors are grouped per class and sorted, then
// each class is probed with a binary search in priority order.
//
// An Index is read-only after NewIndex and safe for concurrent use.
type Index struct {
	tables  Tables
	anchors [len(Classes)][]time.Time
	total   int
}

// NewIndex builds an index over events. The events slice is not retained.
func NewIndex(events []Event, tables Tables) *Index {
	idx := &Index{tables: tables}

	for _, ev := range events {
		i := classIndex(ev.Class)
		if i < 0 {
			continue
		}
		idx.anchors[i] = append(idx.anchors[i], ev.Time)
		idx.total++
	}

	for i := range idx.anchors {
		a := idx.anchors[i]
		sort.Slice(a, func(x, y int) bool { return a[x].Before(a[y]) })
	}

	return idx
}

// Label returns the dominant class for t, identical to AssignLabel over
// the indexed events.
func (idx *Index) Label(t time.Time) Class {
	// Classes is ordered by descending priority, so the first class with a
	// covering window is the answer.
	for i, c := range Classes {
		w, ok := idx.tables.Window(c)
		if !ok {
			continue
		}

		// t in [anchor-Before, anchor+After]  <=>  anchor in [t-After, t+Before]
		lo := t.Add(-w.After)
		hi := t.Add(w.Before)

		a := idx.anchors[i]
		j := sort.Search(len(a), func(k int) bool { return !a[k].Before(lo) })
		if j < len(a) && !a[j].After(hi) {
			return c
		}
	}
	return NoFlare
}

// Len returns the number of indexed events.
func (idx *Index) Len() int {
	return idx.total
}

// Counts returns the number of indexed events per class.
func (idx *Index) Counts() map[Class]int {
	counts := make(map[Class]int, len(Classes))
	for i, c := range Classes {
		counts[c] = len(idx.anchors[i])
	}
	return counts
}
