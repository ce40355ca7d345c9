package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// FrameIterator yields raw frames from a pre-recorded file. Next
// returns io.EOF when the stream is exhausted. A *MalformedRecordError
// describes one bad row; iteration may continue past it.
type FrameIterator interface {
	Next() (*model.RawFrame, error)
}

// FrameReader parses one file format into a frame stream. CSV ships in
// this module; EDF and HDF5 parsers are external collaborators that
// register here.
type FrameReader interface {
	Frames(r io.Reader, cfg model.SourceConfig) (FrameIterator, error)
}

var (
	fileMu      sync.RWMutex
	fileReaders = map[string]FrameReader{
		"csv": CSVReader{},
	}
)

// RegisterFileFormat installs a reader for a format name (lowercase).
func RegisterFileFormat(format string, r FrameReader) {
	fileMu.Lock()
	defer fileMu.Unlock()
	fileReaders[strings.ToLower(format)] = r
}

// FileReaderFor looks up the reader for a format.
func FileReaderFor(format string) (FrameReader, error) {
	fileMu.RLock()
	defer fileMu.RUnlock()
	r, ok := fileReaders[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no reader registered for format %q", format)
	}
	return r, nil
}

// CSVReader parses rows of "timestamp,ch1,...,chN" into single-step
// frames. The timestamp column accepts RFC3339 or Unix seconds with
// fractional part. A header row is skipped when detected.
type CSVReader struct{}

// Frames returns an iterator over the CSV rows.
func (CSVReader) Frames(r io.Reader, cfg model.SourceConfig) (FrameIterator, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // malformed rows are reported per row, not fatally
	return &csvIterator{reader: cr, cfg: cfg}, nil
}

type csvIterator struct {
	reader *csv.Reader
	cfg    model.SourceConfig
	row    int
}

func (it *csvIterator) Next() (*model.RawFrame, error) {
	for {
		row, err := it.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			it.row++
			return nil, &model.MalformedRecordError{Reason: fmt.Sprintf("row %d: %v", it.row, err)}
		}
		it.row++

		if it.row == 1 && looksLikeHeader(row) {
			continue
		}

		if len(row) != it.cfg.ChannelCount+1 {
			return nil, &model.MalformedRecordError{
				Reason: fmt.Sprintf("row %d has %d columns, want %d", it.row, len(row), it.cfg.ChannelCount+1),
			}
		}

		ts, err := parseTimestamp(row[0])
		if err != nil {
			return nil, &model.MalformedRecordError{Reason: fmt.Sprintf("row %d: %v", it.row, err)}
		}

		vec := make([]float64, it.cfg.ChannelCount)
		for i, field := range row[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, &model.MalformedRecordError{
					Reason: fmt.Sprintf("row %d column %d: not a number", it.row, i+1),
				}
			}
			vec[i] = v
		}

		return &model.RawFrame{
			ChannelCount: it.cfg.ChannelCount,
			Timestamp:    ts,
			Samples:      [][]float64{vec},
		}, nil
	}
}

func looksLikeHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	if _, err := parseTimestamp(row[0]); err == nil {
		return false
	}
	return true
}

func parseTimestamp(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if t, err := time.Parse(time.RFC3339Nano, field); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, field); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseFloat(field, 64); err == nil {
		sec := int64(secs)
		nsec := int64((secs - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", field)
}
