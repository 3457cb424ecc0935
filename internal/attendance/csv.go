package attendance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/logger"
)

var header = []string{"Name", "Date", "Time"}

// CSVRecorder appends rows to a CSV file with the header Name,Date,Time.
// Existing rows seed the per-day dedup set when the file is opened.
type CSVRecorder struct {
	path string

	mu   sync.Mutex
	seen map[string]bool // name + "\x00" + date
	rows []Record
}

// OpenCSV opens or creates the attendance file at path.
func OpenCSV(path string) (*CSVRecorder, error) {
	r := &CSVRecorder{path: path, seen: make(map[string]bool)}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, r.writeHeader()
	}
	if err != nil {
		return nil, fmt.Errorf("opening attendance file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		line++
		if line == 1 && len(rec) > 0 && rec[0] == header[0] {
			continue
		}
		if len(rec) < 3 {
			logger.Warning("skipping malformed attendance row", logger.LoggerOptions{Key: "line", Data: line})
			continue
		}
		at, err := time.ParseInLocation(DateLayout+" "+TimeLayout, rec[1]+" "+rec[2], time.Local)
		if err != nil {
			logger.Warning("skipping attendance row with bad timestamp", logger.LoggerOptions{Key: "line", Data: line})
			continue
		}
		r.remember(Record{Name: rec[0], Time: at})
	}
	if line == 0 {
		return r, r.writeHeader()
	}
	return r, nil
}

func (r *CSVRecorder) writeHeader() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating attendance file: %w", err)
	}
	w := csv.NewWriter(f)
	w.Write(header)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func key(name, day string) string {
	return name + "\x00" + day
}

func (r *CSVRecorder) remember(rec Record) {
	r.seen[key(rec.Name, rec.Day())] = true
	r.rows = append(r.rows, rec)
}

// Record appends a row unless name is Unknown or already recorded on the same day.
func (r *CSVRecorder) Record(ctx context.Context, name string, at time.Time) (bool, error) {
	if !Recordable(name) {
		return false, nil
	}
	at = at.Local()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[key(name, at.Format(DateLayout))] {
		return false, nil
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("opening attendance file: %w", err)
	}
	w := csv.NewWriter(f)
	w.Write([]string{name, at.Format(DateLayout), at.Format(TimeLayout)})
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return false, fmt.Errorf("writing attendance row: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, err
	}

	r.remember(Record{Name: name, Time: at})
	logger.Info("attendance recorded", logger.LoggerOptions{Key: "name", Data: name})
	return true, nil
}

// List returns the records of the given local day ordered by time.
func (r *CSVRecorder) List(ctx context.Context, day time.Time) ([]Record, error) {
	want := day.Local().Format(DateLayout)

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	for _, rec := range r.rows {
		if rec.Day() == want {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
