package scheduler

import (
	"time"

	"github.com/tvcaptd/tvcaptd/internal/calendar"
)

// DeviceAny is the device_hint value meaning "pick the lowest-index device
// whose queue accepts the candidate without collision".
const DeviceAny = -1

// DeleteScope selects how far a delete reaches into a recurring series.
type DeleteScope int

const (
	// DeleteThisOnly removes a single occurrence and records its index in
	// the series' ExclusionSet so a future re-expansion would skip it.
	DeleteThisOnly DeleteScope = iota
	// DeleteWholeSeries removes every live occurrence sharing the job's
	// recurrence_id and purges its ExclusionSet entry.
	DeleteWholeSeries
)

// InsertRequest describes one add operation: either a standalone recording
// or a recurring template to be expanded before insertion.
type InsertRequest struct {
	DeviceHint int // DeviceAny or a specific device index

	Title    string
	Filename string
	Channel  string

	TsStart time.Time
	TsEnd   time.Time

	Profiles []string

	Recurrence               bool
	RecurrenceType           calendar.RecurrenceType
	RecurrenceCount          int
	RecurrenceStartNumber    int
	RecurrenceMangling       calendar.ManglingMode
	RecurrenceManglingPrefix string
}

// JobSummary is the read-only projection returned by List/ListWithTimestamps
// to frontends; it never aliases the scheduler's internal Job records.
type JobSummary struct {
	SeqNbr          int64
	Device          int
	Title           string
	Channel         string
	Filename        string
	TsStart         time.Time
	TsEnd           time.Time
	RecurrenceID    int64
	RecurrenceType  string
	RecurrenceCount int
	Profiles        []string
	InFlight        bool
}
