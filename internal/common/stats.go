package common

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds atomic counters for progress tracking across a batch of
// files (images labeled or downloaded).
type Stats struct {
	totalItems atomic.Uint64
	totalBytes atomic.Uint64

	// Reporter state
	label    string
	interval time.Duration
	out      io.Writer
	running  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	silent   bool

	lastItems uint64
	lastBytes uint64
	lastTime  time.Time

	// Moving average window for the items/sec figure
	rateWindow []float64
	rateIndex  int
}

// NewStats creates a Stats whose reporter lines are prefixed with label.
func NewStats(label string) *Stats {
	return &Stats{
		label:      label,
		interval:   time.Second,
		out:        os.Stdout,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		rateWindow: make([]float64, 10),
	}
}

// AddItems atomically increments the processed item counter.
func (s *Stats) AddItems(n uint64) {
	s.totalItems.Add(n)
}

// AddBytes atomically increments the byte counter.
func (s *Stats) AddBytes(n uint64) {
	s.totalBytes.Add(n)
}

// Items returns the number of processed items.
func (s *Stats) Items() uint64 {
	return s.totalItems.Load()
}

// Bytes returns the number of bytes counted.
func (s *Stats) Bytes() uint64 {
	return s.totalBytes.Load()
}

// SetSilent disables reporter output.
func (s *Stats) SetSilent(silent bool) {
	s.silent = silent
}

// SetOutput redirects reporter output. Call before StartReporter.
func (s *Stats) SetOutput(w io.Writer, interval time.Duration) {
	s.out = w
	if interval > 0 {
		s.interval = interval
	}
}

// StartReporter starts a background goroutine that prints progress every
// interval until StopReporter is called.
func (s *Stats) StartReporter() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.lastTime = time.Now()
	go s.reporterLoop()
}

// StopReporter stops the reporter and waits for it to exit.
func (s *Stats) StopReporter() {
	if !s.running.Load() {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Stats) reporterLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.printStatus()
		}
	}
}

func (s *Stats) printStatus() {
	if s.silent {
		return
	}

	now := time.Now()
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed < 0.001 {
		return
	}

	items := s.Items()
	bytes := s.Bytes()

	rate := float64(items-s.lastItems) / elapsed
	mibPerSec := (float64(bytes-s.lastBytes) / (1024 * 1024)) / elapsed

	s.rateWindow[s.rateIndex] = rate
	s.rateIndex = (s.rateIndex + 1) % len(s.rateWindow)

	var sum float64
	var count int
	for _, r := range s.rateWindow {
		if r > 0 {
			sum += r
			count++
		}
	}
	smoothed := 0.0
	if count > 0 {
		smoothed = sum / float64(count)
	}

	fmt.Fprintf(s.out, "[%s] Rate: %.1f files/s (avg: %.1f) | Throughput: %.2f MiB/s | Total: %d files\n",
		s.label, rate, smoothed, mibPerSec, items)

	s.lastItems = items
	s.lastBytes = bytes
	s.lastTime = now
}
