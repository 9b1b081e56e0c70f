package helioviewer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/dataset"
)

const (
	DefaultWorkers      = 5
	DefaultAttempts     = 3
	DefaultInitialDelay = 5 * time.Second
)

// createFile opens the temp file a download streams into; replaced in tests.
var createFile = func(name string) (io.WriteCloser, error) { return os.Create(name) }

// Summary counts the outcome of a download run.
type Summary struct {
	Downloaded int64
	Skipped    int64 // Already present and non-empty
	Failed     int64 // Exhausted all attempts
	Retries    int64
	Bytes      int64
	Failures   []time.Time
}

// Downloader fetches one image per timestamp into Dest with bounded
// concurrency and per-item exponential backoff.
type Downloader struct {
	Client       *Client
	Dest         string
	Ext          string        // dataset.DefaultExt when empty
	Workers      int           // DefaultWorkers when < 1
	Attempts     int           // DefaultAttempts when < 1
	InitialDelay time.Duration // DefaultInitialDelay when <= 0; doubles per retry
	Logger       *zap.SugaredLogger
	Stats        *common.Stats
	Metrics      *Metrics
}

type counters struct {
	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	retries    atomic.Int64
	bytes      atomic.Int64
}

// Run downloads every timestamp in times. A failed item is logged and
// counted without affecting the others. Cancelling ctx stops scheduling
// new items and aborts pending backoff waits; Run then returns ctx.Err().
func (d *Downloader) Run(ctx context.Context, times []time.Time) (Summary, error) {
	if err := os.MkdirAll(d.Dest, 0755); err != nil {
		return Summary{}, fmt.Errorf("create destination: %w", err)
	}

	workers := d.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}

	var (
		c        counters
		failures = make([]bool, len(times))
		g        errgroup.Group
	)
	g.SetLimit(workers)

	for i, t := range times {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if !d.fetchOne(ctx, t, &c) {
				failures[i] = true
			}
			return nil
		})
	}
	g.Wait()

	sum := Summary{
		Downloaded: c.downloaded.Load(),
		Skipped:    c.skipped.Load(),
		Failed:     c.failed.Load(),
		Retries:    c.retries.Load(),
		Bytes:      c.bytes.Load(),
	}
	for i, failed := range failures {
		if failed {
			sum.Failures = append(sum.Failures, times[i])
		}
	}
	return sum, ctx.Err()
}

// fetchOne downloads a single image and reports false when it failed.
func (d *Downloader) fetchOne(ctx context.Context, t time.Time, c *counters) bool {
	log := common.Sugar(d.Logger)

	ext := d.Ext
	if ext == "" {
		ext = dataset.DefaultExt
	}
	name := dataset.ImageName(t, ext)
	dst := filepath.Join(d.Dest, name)

	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		c.skipped.Add(1)
		d.Metrics.recordOutcome(OutcomeSkipped)
		log.Debugw("image exists, skipping", "file", name)
		return true
	}

	var written int64
	op := func() error {
		n, err := d.download(ctx, t, dst)
		if err != nil {
			return err
		}
		written = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.retries.Add(1)
		d.Metrics.recordRetry()
		log.Warnw("download failed, retrying", "file", name, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(op, d.policy(ctx), notify); err != nil {
		if ctx.Err() != nil {
			return true
		}
		c.failed.Add(1)
		d.Metrics.recordOutcome(OutcomeFailed)
		log.Errorw("download abandoned", "file", name, "attempts", d.attempts(), "error", err)
		return false
	}

	c.downloaded.Add(1)
	c.bytes.Add(written)
	d.Metrics.recordOutcome(OutcomeDownloaded)
	d.Metrics.recordBytes(written)
	if d.Stats != nil {
		d.Stats.AddItems(1)
		d.Stats.AddBytes(uint64(written))
	}
	log.Infow("downloaded", "file", name, "bytes", written)
	return true
}

// download writes one image via a temp file and an atomic rename.
// Create and rename failures are permanent. HTTP failures and a failed
// close, which may have lost buffered bytes, are retried.
func (d *Downloader) download(ctx context.Context, t time.Time, dst string) (int64, error) {
	tmpPath := dst + ".tmp"
	f, err := createFile(tmpPath)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create file failed: %w", err))
	}

	n, err := d.Client.Fetch(ctx, t, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close file failed: %w", cerr)
	}

	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, backoff.Permanent(fmt.Errorf("rename failed: %w", err))
	}
	return n, nil
}

func (d *Downloader) attempts() int {
	if d.Attempts < 1 {
		return DefaultAttempts
	}
	return d.Attempts
}

// policy doubles the wait from InitialDelay with no jitter and allows
// Attempts tries in total.
func (d *Downloader) policy(ctx context.Context) backoff.BackOff {
	delay := d.InitialDelay
	if delay <= 0 {
		delay = DefaultInitialDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = delay << uint(d.attempts())
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.attempts()-1)), ctx)
}
