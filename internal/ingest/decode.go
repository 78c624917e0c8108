// Package ingest reads normalized cost records from JSON lines, locally or over HTTP.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/shopspring/decimal"
)

const maxLineBytes = 1 << 20

// wireRecord is one JSON line. Cost accepts a JSON number or string; usage_date
// accepts YYYY-MM-DD or RFC 3339.
type wireRecord struct {
	UserID      string            `json:"user_id"`
	ServiceName string            `json:"service_name"`
	Cost        *decimal.Decimal  `json:"cost"`
	UsageDate   string            `json:"usage_date"`
	Provider    string            `json:"provider"`
	Region      string            `json:"region"`
	ResourceID  string            `json:"resource_id"`
	Tags        map[string]string `json:"tags"`
}

// LineError describes a dropped input line.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

// Result is the outcome of decoding a stream.
type Result struct {
	Records []models.CostRecord
	// Dropped lists malformed lines that were skipped.
	Dropped []LineError
}

// Decode reads JSON lines from r. Lines without a user_id are assigned defaultUser.
// Malformed lines, including lines longer than maxLineBytes, are skipped and reported
// in Result.Dropped; only read failures return an error.
func Decode(r io.Reader, defaultUser string) (*Result, error) {
	res := &Result{}
	br := bufio.NewReaderSize(r, 64*1024)

	line := 0
	for {
		data, tooLong, err := readLine(br, maxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return res, fmt.Errorf("failed to read cost records: %w", err)
		}
		eof := err != nil
		if eof && len(data) == 0 && !tooLong {
			break
		}
		line++

		switch text := bytes.TrimSpace(data); {
		case tooLong:
			res.Dropped = append(res.Dropped, LineError{Line: line, Err: fmt.Errorf("line exceeds %d bytes", maxLineBytes)})
		case len(text) > 0:
			rec, err := parseLine(text, defaultUser)
			if err != nil {
				res.Dropped = append(res.Dropped, LineError{Line: line, Err: err})
				break
			}
			res.Records = append(res.Records, rec)
		}
		if eof {
			break
		}
	}
	return res, nil
}

// readLine returns the next line including its newline. Once a line grows past limit
// the rest of it is discarded and tooLong is set.
func readLine(br *bufio.Reader, limit int) (data []byte, tooLong bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(data)+len(chunk) > limit+1 {
				tooLong, data = true, nil
			} else {
				data = append(data, chunk...)
			}
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return data, tooLong, err
		}
	}
}

func parseLine(data []byte, defaultUser string) (models.CostRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return models.CostRecord{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if w.UserID == "" {
		w.UserID = defaultUser
	}
	if w.Cost == nil {
		return models.CostRecord{}, errors.New("cost is required")
	}
	date, err := ParseDate(w.UsageDate)
	if err != nil {
		return models.CostRecord{}, err
	}
	rec := models.CostRecord{
		UserID:      w.UserID,
		ServiceName: strings.TrimSpace(w.ServiceName),
		Cost:        *w.Cost,
		UsageDate:   date,
		Provider:    w.Provider,
		Region:      w.Region,
		ResourceID:  w.ResourceID,
		Tags:        w.Tags,
	}
	if err := rec.Validate(); err != nil {
		return models.CostRecord{}, err
	}
	return rec, nil
}

// ParseDate accepts a calendar day or an RFC 3339 timestamp and returns its UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(models.DayLayout, s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid usage date %q", s)
	}
	return models.Day(t), nil
}
