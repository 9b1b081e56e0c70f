package helioviewer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for the images counter.
const (
	OutcomeDownloaded = "downloaded"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// Metrics holds the downloader's Prometheus counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	images  *prometheus.CounterVec
	retries prometheus.Counter
	bytes   prometheus.Counter
}

// NewMetrics creates the downloader counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		images: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flarelab_download_images_total",
				Help: "Images processed by the downloader",
			},
			[]string{"outcome"}, // downloaded, skipped, failed
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flarelab_download_retries_total",
			Help: "Retried image requests",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flarelab_download_bytes_total",
			Help: "Image bytes written to disk",
		}),
	}

	for _, c := range []prometheus.Collector{m.images, m.retries, m.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) recordBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}
