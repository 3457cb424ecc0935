// Package attendance records one entry per known person per calendar day.
package attendance

import (
	"context"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Record is one attendance entry.
type Record struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
}

// Day returns the local calendar date of the record.
func (r Record) Day() string {
	return r.Time.Local().Format(DateLayout)
}

// Recorder persists attendance. Record reports whether a new entry was
// written; a name already recorded on the same day is not an error.
type Recorder interface {
	Record(ctx context.Context, name string, at time.Time) (bool, error)
}

// Lister is implemented by recorders that can read back a day's entries.
type Lister interface {
	List(ctx context.Context, day time.Time) ([]Record, error)
}

// Ledger is a Recorder that can also list what it recorded.
type Ledger interface {
	Recorder
	Lister
}

// Recordable reports whether a match result name may be recorded.
func Recordable(name string) bool {
	return name != "" && name != types.Unknown
}
