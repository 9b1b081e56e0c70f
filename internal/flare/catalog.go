package flare

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
)

// =============================================================================
// Catalog Record Layout (NGDC fixed-width)
// =============================================================================

const (
	// MinLineLength is the shortest trimmed line that can hold a record.
	MinLineLength = 25

	// Columns [0:11) hold the date field; its last six bytes are YYMMDD.
	DateFieldEnd = 11

	// Columns [11:27) hold whitespace-separated HHMM tokens: start peak end.
	TimeFieldEnd = 27

	// MinTimeTokens is the number of HHMM tokens a record must carry.
	MinTimeTokens = 3

	// Catalog years are two digits; all records are read as 20YY.
	centuryBase = 2000
)

// Parse failure reasons. Returned (wrapped) by Parser.Parse and Diagnose.
var (
	ErrShortLine  = errors.New("line too short")
	ErrTimeTokens = errors.New("too few time tokens")
	ErrDate       = errors.New("invalid date")
	ErrTime       = errors.New("invalid time")
	ErrNoClass    = errors.New("no flare class letter")
	ErrLongLine   = errors.New("line too long")
)

// TimeToken selects which HHMM token anchors the event time.
type TimeToken int

const (
	StartToken TimeToken = iota // First token (event start), the default
	PeakToken                   // Second token (event peak)
)

func (t TimeToken) String() string {
	if t == PeakToken {
		return "peak"
	}
	return "start"
}

// ParseTimeToken parses "start" or "peak".
func ParseTimeToken(s string) (TimeToken, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "start":
		return StartToken, nil
	case "peak":
		return PeakToken, nil
	}
	return StartToken, fmt.Errorf("unknown time token %q (want start or peak)", s)
}

// Parser converts catalog lines to events. The zero value anchors events
// on the start time.
type Parser struct {
	Token TimeToken
}

// ParseLine parses one catalog line with the default parser.
// It returns false for any line that does not hold a valid record.
func ParseLine(line string) (Event, bool) {
	return Parser{}.ParseLine(line)
}

// Diagnose reports why the default parser rejects line, or nil.
func Diagnose(line string) error {
	_, err := Parser{}.Parse(line)
	return err
}

// ParseLine is the lenient form of Parse: malformed records are dropped.
func (p Parser) ParseLine(line string) (Event, bool) {
	ev, err := p.Parse(line)
	if err != nil {
		return Event{}, false
	}
	return ev, true
}

// Parse parses one catalog line and explains any rejection with one of
// the Err* reasons. It never panics on arbitrary input.
func (p Parser) Parse(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if len(line) < MinLineLength {
		return Event{}, fmt.Errorf("%w: %d bytes", ErrShortLine, len(line))
	}

	// YYMMDD is read from the tail of the date field; the leading bytes
	// are a station/sequence prefix we ignore.
	date := line[:DateFieldEnd]
	yearStr := date[DateFieldEnd-6 : DateFieldEnd-4]
	monthStr := date[DateFieldEnd-4 : DateFieldEnd-2]
	dayStr := date[DateFieldEnd-2:]

	times := strings.Fields(line[DateFieldEnd:min(TimeFieldEnd, len(line))])
	if len(times) < MinTimeTokens {
		return Event{}, fmt.Errorf("%w: got %d, need %d", ErrTimeTokens, len(times), MinTimeTokens)
	}

	yy, err1 := atoi(yearStr)
	month, err2 := atoi(monthStr)
	day, err3 := atoi(dayStr)
	if err := errors.Join(err1, err2, err3); err != nil {
		return Event{}, fmt.Errorf("%w: %q: %v", ErrDate, date, err)
	}

	token := times[0]
	if p.Token == PeakToken {
		token = times[1]
	}
	if len(token) < 3 {
		return Event{}, fmt.Errorf("%w: token %q", ErrTime, token)
	}
	hour, err1 := atoi(token[:2])
	minute, err2 := atoi(token[2:])
	if err := errors.Join(err1, err2); err != nil {
		return Event{}, fmt.Errorf("%w: token %q: %v", ErrTime, token, err)
	}

	year := centuryBase + yy
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Event{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrDate, year, month, day)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Event{}, fmt.Errorf("%w: %02d:%02d", ErrTime, hour, minute)
	}

	ts := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if ts.Day() != day || int(ts.Month()) != month {
		// time.Date normalizes Feb 30 to Mar 2; reject it instead
		return Event{}, fmt.Errorf("%w: %04d-%02d-%02d does not exist", ErrDate, year, month, day)
	}

	// The last class letter anywhere in the line wins. Trailing free text
	// containing A/B/C/M/X will override the class column.
	for i := len(line) - 1; i >= 0; i-- {
		if c := Class(line[i]); c.Valid() {
			return Event{Time: ts, Class: c}, nil
		}
	}
	return Event{}, ErrNoClass
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

// =============================================================================
// Catalog Files
// =============================================================================

// CatalogStats counts the outcome of reading a catalog.
type CatalogStats struct {
	TotalLines int64 // Lines read, including blank ones
	Parsed     int64 // Lines that produced an event
	Skipped    int64 // Lines dropped as malformed
}

// SkipFunc observes dropped lines. lineNum is 1-based.
type SkipFunc func(lineNum int64, line string, reason error)

// MaxLineLength caps a catalog line. Longer lines are dropped with
// ErrLongLine and reading continues on the next line.
const MaxLineLength = 1024 * 1024

// ReadCatalog parses every line of r in order. Malformed lines are
// dropped (and reported to onSkip when non-nil); only read errors are
// returned.
func ReadCatalog(r io.Reader, p Parser, onSkip SkipFunc) ([]Event, CatalogStats, error) {
	var (
		events []Event
		stats  CatalogStats
	)

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, tooLong, err := readLine(br, MaxLineLength)
		if err == io.EOF {
			break
		}
		if err != nil {
			return events, stats, fmt.Errorf("read catalog: %w", err)
		}
		stats.TotalLines++

		var ev Event
		if tooLong {
			err = fmt.Errorf("%w: over %d bytes", ErrLongLine, MaxLineLength)
		} else {
			ev, err = p.Parse(line)
		}
		if err != nil {
			stats.Skipped++
			if onSkip != nil {
				onSkip(stats.TotalLines, line, err)
			}
			continue
		}

		stats.Parsed++
		events = append(events, ev)
	}

	return events, stats, nil
}

// readLine returns the next line without its terminator. A line longer
// than limit is consumed in full and reported as tooLong with an empty
// text.
func readLine(br *bufio.Reader, limit int) (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		frag, more, err := br.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(frag) > limit {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, frag...)
			}
		}
		if !more {
			return string(buf), tooLong, nil
		}
	}
}

// LoadCatalog reads a catalog file, decompressing it when the name ends
// in ".gz".
func LoadCatalog(path string, p Parser, onSkip SkipFunc) ([]Event, CatalogStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, CatalogStats{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReaderN(f, 256*1024, runtime.NumCPU())
		if err != nil {
			return nil, CatalogStats{}, fmt.Errorf("open gzip catalog: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	return ReadCatalog(reader, p, onSkip)
}
