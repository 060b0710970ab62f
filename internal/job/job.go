// Package job defines the recording job record, its per-device pending
// queues, and the exclusion sets used to skip individual occurrences of a
// recurring series.
package job

import (
	"time"

	"github.com/tvcaptd/tvcaptd/internal/calendar"
)

// MaxRecordingDuration is the default cap on a single recording's length.
const MaxRecordingDuration = 4 * time.Hour

// DefaultManglingPrefix is the separator used between a recurring job's
// base name and its mangled suffix when no prefix is configured.
const DefaultManglingPrefix = "_"

// Job represents one concrete recording intent: either a standalone
// recording or one expanded occurrence of a recurring series.
type Job struct {
	SeqNbr int64

	Title    string
	Filename string
	Channel  string

	TsStart time.Time
	TsEnd   time.Time

	Device int

	Recurrence             bool
	RecurrenceType         calendar.RecurrenceType
	RecurrenceCount        int
	RecurrenceID           int64
	RecurrenceStartNumber  int
	// RecurrenceIndex is this occurrence's own 1-based position within its
	// series, distinct from RecurrenceStartNumber (a series-wide numbering
	// offset shared by every occurrence). Used to record the right index in
	// the series' ExclusionSet on a this_only delete.
	RecurrenceIndex        int
	RecurrenceMangling     calendar.ManglingMode
	RecurrenceManglingPrefix string
	RecurrenceTitle        string
	RecurrenceFilename     string

	TranscodingProfiles []string
}

// Duration returns ts_end - ts_start.
func (j *Job) Duration() time.Duration {
	return j.TsEnd.Sub(j.TsStart)
}

// PrimaryProfile returns the job's position-zero profile name, the one
// whose encoder parameters configure the hardware during capture, or the
// empty string if the job carries no profiles.
func (j *Job) PrimaryProfile() string {
	if len(j.TranscodingProfiles) == 0 {
		return ""
	}
	return j.TranscodingProfiles[0]
}

// Overlaps reports whether the two half-open-but-treated-as-inclusive
// intervals [a.TsStart, a.TsEnd] and [b.TsStart, b.TsEnd] overlap at any
// point, including equality at endpoints. Endpoint equality is treated as
// collision and rejected at insert, preserved as originally specified even
// though it may reject adjacent recordings sharing a boundary second.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
