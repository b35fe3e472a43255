package annotations

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

const fieldsPerRecord = 8

// FileStore keeps each annotation set in a tab separated file:
// path, x, y, w, h, anno, uri, score.
type FileStore struct{}

// NewFileStore creates a file backed store.
func NewFileStore() *FileStore { return &FileStore{} }

// Save writes records to the file at key, replacing it.
func (s *FileStore) Save(_ context.Context, key string, records []Record) error {
	f, err := os.Create(key) //nolint:gosec // path comes from the client by protocol
	if err != nil {
		return fmt.Errorf("failed to create annotations file: %w", err)
	}
	if err := Write(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing annotations file: %w", err)
	}
	return nil
}

// Load reads the file at key.
func (s *FileStore) Load(_ context.Context, key string) ([]Record, error) {
	f, err := os.Open(key) //nolint:gosec // path comes from the client by protocol
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open annotations file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write encodes records as tab separated lines.
func Write(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	for _, r := range records {
		row := []string{
			r.Path,
			formatFloat(r.ROI.X1),
			formatFloat(r.ROI.Y1),
			formatFloat(r.ROI.Width()),
			formatFloat(r.ROI.Height()),
			strconv.Itoa(r.Anno),
			strconv.FormatInt(r.URI, 10),
			strconv.FormatFloat(r.Score, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing annotation: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing annotations: %w", err)
	}
	return nil
}

// Read decodes tab separated annotation lines.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = fieldsPerRecord
	cr.LazyQuotes = true

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading annotations: %w", err)
		}
		rec, err := parseRow(row)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("annotations line %d: %w", line, err)
		}
		records = append(records, rec)
	}
}

func parseRow(row []string) (Record, error) {
	var nums [4]float64
	for i := range nums {
		v, err := strconv.ParseFloat(row[1+i], 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid box value %q", row[1+i])
		}
		nums[i] = v
	}
	anno, err := strconv.Atoi(row[5])
	if err != nil {
		return Record{}, fmt.Errorf("invalid annotation %q", row[5])
	}
	uri, err := strconv.ParseInt(row[6], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid uri %q", row[6])
	}
	score, err := strconv.ParseFloat(row[7], 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid score %q", row[7])
	}

	rec := Record{Path: row[0], Anno: anno, URI: uri, Score: score}
	rec.ROI.X1, rec.ROI.Y1 = nums[0], nums[1]
	rec.ROI.X2, rec.ROI.Y2 = nums[0]+nums[2], nums[1]+nums[3]
	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
