// Package dataset organizes timestamped solar images into flare-class
// buckets for model training.
//
// Images are named YYYYMMDD_HHMM.<ext>. Each image timestamp is labeled
// with the dominant flare class and the file is placed (hard link or copy)
// under:
//
//	<root>/detailed_classification/next24h_<CLASS>/
//	<root>/detailed_classification/no_flare/
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KI7MT/flare-lab/internal/flare"
)

// ImageTimeLayout is the timestamp portion of an image filename.
const ImageTimeLayout = "20060102_1504"

const (
	ClassifiedDirName = "detailed_classification"
	NoFlareBucket     = "no_flare"
	bucketPrefix      = "next24h_"
)

// ParseImageTime extracts the capture time from an image filename such as
// "20130910_0400.jp2". The whole name before the extension must match
// ImageTimeLayout.
func ParseImageTime(name string) (time.Time, error) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	ts, err := time.Parse(ImageTimeLayout, stem)
	if err != nil {
		return time.Time{}, fmt.Errorf("filename %q: not %s.<ext>: %w", base, ImageTimeLayout, err)
	}
	return ts, nil
}

// ImageName returns the filename for an image captured at t.
func ImageName(t time.Time, ext string) string {
	return t.UTC().Format(ImageTimeLayout) + ext
}

// BucketName returns the directory name for a label.
func BucketName(c flare.Class) string {
	if !c.Valid() {
		return NoFlareBucket
	}
	return bucketPrefix + c.String()
}

// Layout describes the classified output tree.
type Layout struct {
	Root string
}

// Dir returns <root>/detailed_classification.
func (l Layout) Dir() string {
	return filepath.Join(l.Root, ClassifiedDirName)
}

// BucketDir returns the directory images labeled c are placed in.
func (l Layout) BucketDir(c flare.Class) string {
	return filepath.Join(l.Dir(), BucketName(c))
}

// Buckets lists every bucket directory, class buckets first.
func (l Layout) Buckets() []string {
	dirs := make([]string, 0, len(flare.Classes)+1)
	for _, c := range flare.Classes {
		dirs = append(dirs, l.BucketDir(c))
	}
	return append(dirs, l.BucketDir(flare.NoFlare))
}

// Ensure creates all bucket directories. Existing directories are fine.
func (l Layout) Ensure() error {
	for _, dir := range l.Buckets() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create bucket %s: %w", dir, err)
		}
	}
	return nil
}
