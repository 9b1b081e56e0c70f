package helioviewer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/flare-lab/internal/common"
)

const imageURLPattern = `=~^https://api\.helioviewer\.org/v2/getJP2Image/`

var t0 = time.Date(2013, 9, 10, 0, 0, 0, 0, time.UTC)

func TestHourly(t *testing.T) {
	times := Hourly(t0, t0.Add(3*time.Hour))
	require.Len(t, times, 4)
	assert.Equal(t, t0, times[0])
	assert.Equal(t, t0.Add(3*time.Hour), times[3], "end inclusive")

	assert.Len(t, Hourly(t0, t0), 1)
	assert.Nil(t, Hourly(t0, t0.Add(-time.Hour)))

	// 2013-09-10 through 2014-01-01 00:00, as the default range.
	end := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Len(t, Hourly(t0, end), 113*24+1)
}

func TestImageURL(t *testing.T) {
	c := NewClient("", 0, 0)
	assert.Equal(t,
		"https://api.helioviewer.org/v2/getJP2Image/?date=2013-09-10T04:00:00Z&sourceId=14",
		c.ImageURL(t0.Add(4*time.Hour)))

	c = NewClient("http://localhost:8080/", 10, time.Second)
	assert.Equal(t,
		"http://localhost:8080/v2/getJP2Image/?date=2013-09-10T00:00:00Z&sourceId=10",
		c.ImageURL(t0))
}

// newTestDownloader wires a downloader to an httpmock transport.
func newTestDownloader(t *testing.T) (*Downloader, *prometheus.Registry) {
	t.Helper()

	client := NewClient("", 0, time.Second)
	httpmock.ActivateNonDefault(client.HTTP)
	t.Cleanup(httpmock.DeactivateAndReset)

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	return &Downloader{
		Client:       client,
		Dest:         t.TempDir(),
		Workers:      2,
		Attempts:     3,
		InitialDelay: time.Millisecond,
		Metrics:      m,
	}, reg
}

func TestDownloader_Success(t *testing.T) {
	d, _ := newTestDownloader(t)
	d.Stats = common.NewStats("test")
	httpmock.RegisterResponder("GET", imageURLPattern, httpmock.NewBytesResponder(200, []byte("jp2-bytes")))

	sum, err := d.Run(context.Background(), Hourly(t0, t0.Add(2*time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, int64(3), sum.Downloaded)
	assert.Equal(t, int64(0), sum.Failed)
	assert.Equal(t, int64(27), sum.Bytes)
	assert.Equal(t, uint64(3), d.Stats.Items())

	data, err := os.ReadFile(filepath.Join(d.Dest, "20130910_0100.jp2"))
	require.NoError(t, err)
	assert.Equal(t, "jp2-bytes", string(data))
	assert.NoFileExists(t, filepath.Join(d.Dest, "20130910_0100.jp2.tmp"))

	assert.Equal(t, float64(3), testutil.ToFloat64(d.Metrics.images.WithLabelValues(OutcomeDownloaded)))
	assert.Equal(t, float64(27), testutil.ToFloat64(d.Metrics.bytes))
}

func TestDownloader_RetryThenSucceed(t *testing.T) {
	d, _ := newTestDownloader(t)

	var mu sync.Mutex
	calls := 0
	httpmock.RegisterResponder("GET", imageURLPattern, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(503, "busy"), nil
		}
		return httpmock.NewStringResponse(200, "jp2"), nil
	})

	sum, err := d.Run(context.Background(), []time.Time{t0})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Downloaded)
	assert.Equal(t, int64(2), sum.Retries)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
	assert.Equal(t, float64(2), testutil.ToFloat64(d.Metrics.retries))
	assert.FileExists(t, filepath.Join(d.Dest, "20130910_0000.jp2"))
}

// closeFailFile closes the underlying file but reports a write-back error.
type closeFailFile struct{ *os.File }

func (f closeFailFile) Close() error {
	f.File.Close()
	return errors.New("input/output error")
}

func TestDownloader_CloseErrorIsRetried(t *testing.T) {
	d, _ := newTestDownloader(t)
	httpmock.RegisterResponder("GET", imageURLPattern, httpmock.NewStringResponder(200, "jp2-bytes"))

	orig := createFile
	t.Cleanup(func() { createFile = orig })
	var mu sync.Mutex
	opened := 0
	createFile = func(name string) (io.WriteCloser, error) {
		f, err := os.Create(name)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		opened++
		if opened == 1 {
			return closeFailFile{f}, nil
		}
		return f, nil
	}

	sum, err := d.Run(context.Background(), []time.Time{t0})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Downloaded)
	assert.Equal(t, int64(1), sum.Retries)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())

	dst := filepath.Join(d.Dest, "20130910_0000.jp2")
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "jp2-bytes", string(data))
	assert.NoFileExists(t, dst+".tmp")
}

func TestDownloader_GivesUpAfterAttempts(t *testing.T) {
	d, _ := newTestDownloader(t)
	httpmock.RegisterResponder("GET", imageURLPattern, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("date") == "2013-09-10T01:00:00Z" {
			return httpmock.NewStringResponse(500, "boom"), nil
		}
		return httpmock.NewStringResponse(200, "jp2"), nil
	})

	sum, err := d.Run(context.Background(), Hourly(t0, t0.Add(2*time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.Downloaded, "other items unaffected")
	assert.Equal(t, int64(1), sum.Failed)
	assert.Equal(t, int64(2), sum.Retries)
	assert.Equal(t, []time.Time{t0.Add(time.Hour)}, sum.Failures)
	assert.Equal(t, 5, httpmock.GetTotalCallCount(), "3 attempts + 2 successes")

	assert.NoFileExists(t, filepath.Join(d.Dest, "20130910_0100.jp2"))
	assert.NoFileExists(t, filepath.Join(d.Dest, "20130910_0100.jp2.tmp"))
	assert.Equal(t, float64(1), testutil.ToFloat64(d.Metrics.images.WithLabelValues(OutcomeFailed)))
}

func TestDownloader_SkipsExisting(t *testing.T) {
	d, _ := newTestDownloader(t)
	httpmock.RegisterResponder("GET", imageURLPattern, httpmock.NewStringResponder(200, "fresh"))

	existing := filepath.Join(d.Dest, "20130910_0000.jp2")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))
	// Empty files are treated as incomplete and fetched again.
	require.NoError(t, os.WriteFile(filepath.Join(d.Dest, "20130910_0100.jp2"), nil, 0o644))

	sum, err := d.Run(context.Background(), Hourly(t0, t0.Add(time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Skipped)
	assert.Equal(t, int64(1), sum.Downloaded)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.Equal(t, float64(1), testutil.ToFloat64(d.Metrics.images.WithLabelValues(OutcomeSkipped)))
}

func TestDownloader_Cancelled(t *testing.T) {
	d, _ := newTestDownloader(t)
	httpmock.RegisterResponder("GET", imageURLPattern, httpmock.NewStringResponder(200, "jp2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := d.Run(ctx, Hourly(t0, t0.Add(5*time.Hour)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), sum.Downloaded)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)

	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordOutcome(OutcomeFailed)
		m.recordRetry()
		m.recordBytes(10)
	})
}
