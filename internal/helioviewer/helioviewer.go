// Package helioviewer downloads timestamped JP2 solar images from the
// Helioviewer API into a flat image directory named YYYYMMDD_HHMM.jp2.
package helioviewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://api.helioviewer.org"
	DefaultSourceID = 14 // SDO AIA 171
	DefaultTimeout  = 60 * time.Second

	// dateLayout is the date query parameter format.
	dateLayout = "2006-01-02T15:04:05Z"
)

// ErrStatus is wrapped by errors for non-200 responses.
var ErrStatus = errors.New("unexpected HTTP status")

// Hourly returns every whole-hour step from start to end, end inclusive.
// It returns nil when end is before start.
func Hourly(start, end time.Time) []time.Time {
	if end.Before(start) {
		return nil
	}
	n := int(end.Sub(start)/time.Hour) + 1
	times := make([]time.Time, 0, n)
	for t := start; !t.After(end); t = t.Add(time.Hour) {
		times = append(times, t)
	}
	return times
}

// Client builds image requests against one Helioviewer instance.
type Client struct {
	BaseURL  string
	SourceID int
	HTTP     *http.Client
}

// NewClient returns a client with its own http.Client. Empty or zero
// arguments fall back to the package defaults.
func NewClient(baseURL string, sourceID int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if sourceID == 0 {
		sourceID = DefaultSourceID
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		SourceID: sourceID,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// ImageURL returns the getJP2Image URL for the image closest to t.
func (c *Client) ImageURL(t time.Time) string {
	q := url.Values{}
	q.Set("date", t.UTC().Format(dateLayout))
	q.Set("sourceId", strconv.Itoa(c.SourceID))
	// Keep the literal colons in the date; the API accepts both forms.
	query := strings.ReplaceAll(q.Encode(), "%3A", ":")
	return c.BaseURL + "/v2/getJP2Image/?" + query
}

// Fetch streams the image for t into w and returns the bytes written.
func (c *Client) Fetch(ctx context.Context, t time.Time, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ImageURL(t), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("%w: HTTP %d", ErrStatus, resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	return n, nil
}
