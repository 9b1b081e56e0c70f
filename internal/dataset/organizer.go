package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/flare"
)

// DefaultExt is the image extension the organizer picks up by default.
const DefaultExt = ".jp2"

var (
	// ErrDestinationExists is reported when a bucket already holds the file.
	ErrDestinationExists = errors.New("destination already exists")
	// ErrNotRegular is reported for a directory named like an image.
	ErrNotRegular = errors.New("not a regular file")
)

// linkFile creates hard links; replaced in tests to force link failures.
var linkFile = os.Link

// PlaceMode selects how an image is placed into its bucket.
type PlaceMode string

const (
	PlaceLink PlaceMode = "link" // hard link, fails across filesystems
	PlaceCopy PlaceMode = "copy"
	PlaceAuto PlaceMode = "auto" // hard link, falling back to copy
)

// Labeler resolves the flare class for an image timestamp.
// *flare.Index satisfies it.
type Labeler interface {
	Label(t time.Time) flare.Class
}

// LabelerFunc adapts a function to Labeler.
type LabelerFunc func(t time.Time) flare.Class

// Label calls f(t).
func (f LabelerFunc) Label(t time.Time) flare.Class { return f(t) }

// Skip records an image the organizer did not place.
type Skip struct {
	File   string
	Reason string
}

// Result summarizes an organizer run.
type Result struct {
	Placed  map[flare.Class]int // Keyed by label; flare.NoFlare counts no_flare
	Skipped []Skip
	Records []Record // One per placed image, in filename order
}

// Total returns the number of placed images.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Placed {
		n += c
	}
	return n
}

// Organizer labels every image in a directory and places it into the
// matching bucket of Layout.
type Organizer struct {
	Labeler Labeler
	Layout  Layout
	Ext     string    // Image extension, DefaultExt when empty
	Mode    PlaceMode // PlaceLink when empty
	Logger  *zap.SugaredLogger
	Stats   *common.Stats // Optional progress counters
}

// Run organizes the images in dir. Per-file problems (unparseable name,
// directory named like an image, existing destination, placement failure) are recorded in Result.Skipped
// and do not stop the batch. Failing to create the layout or to list dir
// is fatal. Cancelling ctx stops between files.
func (o *Organizer) Run(ctx context.Context, dir string) (Result, error) {
	log := common.Sugar(o.Logger)
	res := Result{Placed: make(map[flare.Class]int)}

	if err := o.Layout.Ensure(); err != nil {
		return res, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("read image directory: %w", err)
	}

	ext := o.Ext
	if ext == "" {
		ext = DefaultExt
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		name := e.Name()
		if !strings.HasSuffix(name, ext) {
			continue
		}
		if e.IsDir() {
			err := fmt.Errorf("%w: %s is a directory", ErrNotRegular, name)
			log.Warnw("skipping image", "file", name, "error", err)
			res.Skipped = append(res.Skipped, Skip{File: name, Reason: err.Error()})
			continue
		}

		ts, err := ParseImageTime(name)
		if err != nil {
			log.Warnw("skipping image", "file", name, "error", err)
			res.Skipped = append(res.Skipped, Skip{File: name, Reason: err.Error()})
			continue
		}

		label := o.Labeler.Label(ts)
		src := filepath.Join(dir, name)
		dst := filepath.Join(o.Layout.BucketDir(label), name)

		if err := place(o.Mode, src, dst); err != nil {
			log.Warnw("skipping image", "file", name, "error", err)
			res.Skipped = append(res.Skipped, Skip{File: name, Reason: err.Error()})
			continue
		}

		log.Debugw("placed image", "file", name, "bucket", BucketName(label))
		res.Placed[label]++
		res.Records = append(res.Records, Record{
			Filename:  name,
			ImageTime: ts.Unix(),
			Label:     label.String(),
			Bucket:    BucketName(label),
		})
		if o.Stats != nil {
			o.Stats.AddItems(1)
		}
	}

	return res, nil
}

func place(mode PlaceMode, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}

	switch mode {
	case PlaceCopy:
		return copyFile(src, dst)
	case PlaceAuto:
		if err := linkFile(src, dst); err == nil {
			return nil
		}
		return copyFile(src, dst)
	default:
		if err := linkFile(src, dst); err != nil {
			return fmt.Errorf("link failed: %w", err)
		}
		return nil
	}
}

// copyFile copies src to dst through a temp file and an atomic rename.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file failed: %w", err)
	}

	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("copy failed: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}
