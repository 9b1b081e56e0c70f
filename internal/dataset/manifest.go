package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"
)

// Record is one manifest row: a placed image and its label.
type Record struct {
	Filename  string `parquet:"filename"`
	ImageTime int64  `parquet:"image_time"` // Unix seconds, UTC
	Label     string `parquet:"label"`      // Class letter, empty for no flare
	Bucket    string `parquet:"bucket"`
}

// Time returns the image capture time.
func (r Record) Time() time.Time {
	return time.Unix(r.ImageTime, 0).UTC()
}

// WriteParquet writes records to a Parquet file at path.
func WriteParquet(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer f.Close()

	w := parquet.NewGenericWriter[Record](f)
	if _, err := w.Write(records); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close manifest writer: %w", err)
	}
	return f.Close()
}

// ReadParquet reads every record from a Parquet manifest.
func ReadParquet(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat manifest: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parquet open: %w", err)
	}

	reader := parquet.NewGenericReader[Record](pf)
	defer reader.Close()

	records := make([]Record, 0, reader.NumRows())
	buf := make([]Record, 1000)
	for {
		n, err := reader.Read(buf)
		records = append(records, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, fmt.Errorf("read manifest: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return records, nil
}

// WriteCSV writes records as CSV with a header row. Paths ending in ".gz"
// are gzip-compressed.
func WriteCSV(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer f.Close()

	var out io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		out = gz
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"filename", "image_time", "label", "bucket"}); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{r.Filename, r.Time().Format(time.RFC3339), r.Label, r.Bucket}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write manifest row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip: %w", err)
		}
	}
	return f.Close()
}

// WriteManifest writes records in the format implied by the extension:
// ".parquet" or ".csv"/".csv.gz".
func WriteManifest(path string, records []Record) error {
	switch {
	case strings.HasSuffix(path, ".parquet"):
		return WriteParquet(path, records)
	case strings.HasSuffix(path, ".csv"), strings.HasSuffix(path, ".csv.gz"):
		return WriteCSV(path, records)
	}
	return fmt.Errorf("manifest %q: unsupported extension (want .parquet, .csv or .csv.gz)", path)
}

// Summary counts records per bucket name.
func Summary(records []Record) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Bucket]++
	}
	return counts
}
