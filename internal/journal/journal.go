// Package journal implements the write-through XML persistence journal for
// pending jobs, and the versioned on-disk schema the scheduler reads back on
// startup. The history ledger is persisted separately by internal/history.
package journal

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/tvcaptd/tvcaptd/internal/calendar"
	"github.com/tvcaptd/tvcaptd/internal/job"
	"github.com/tvcaptd/tvcaptd/internal/storage"
)

// CurrentVersion is the journal schema version written by this build. A
// reader encountering an older version runs the migration keyed on that
// version before use.
const CurrentVersion = 1

const humanDateLayout = "2006-01-02 15:04:05"

type journalDoc struct {
	XMLName    xml.Name       `xml:"tvpvrd"`
	Version    int            `xml:"version,attr"`
	Recordings []journalEntry `xml:"recording"`
}

type journalEntry struct {
	SeqNbr          int64    `xml:"seq_nbr"`
	Device          int      `xml:"device"`
	Channel         string   `xml:"channel"`
	Title           string   `xml:"title"`
	Filename        string   `xml:"filename"`
	TsStart         int64    `xml:"ts_start"`
	TsEnd           int64    `xml:"ts_end"`
	DateStartHuman  string   `xml:"date_start"`
	DateEndHuman    string   `xml:"date_end"`
	RecurrenceID    int64    `xml:"recurrence_id"`
	RecurrenceType  string   `xml:"recurrence_type"`
	RecurrenceCount int      `xml:"recurrence_count"`
	RecurrenceIndex int      `xml:"recurrence_index"`
	Profiles        []string `xml:"profile"`
	ManglingMode    int      `xml:"mangling_mode"`
	ManglingPrefix  string   `xml:"mangling_prefix"`
}

// Journal writes the full set of pending jobs to an XML file on every
// state-changing operation, and reads it back on startup. Atomicity is
// tightened beyond the original delete-then-rename: rename the existing
// file to "<name>.backup", then write a temp file in the same directory,
// fsync it, rename it into place, and fsync the directory.
type Journal struct {
	sandbox *storage.Sandbox
	path    string
}

// New constructs a Journal writing to relPath inside sandbox.
func New(sandbox *storage.Sandbox, relPath string) *Journal {
	return &Journal{sandbox: sandbox, path: relPath}
}

// Save atomically rewrites the journal file with the given jobs.
func (j *Journal) Save(jobs []*job.Job) error {
	doc := journalDoc{Version: CurrentVersion}
	for _, jb := range jobs {
		doc.Recordings = append(doc.Recordings, toEntry(jb))
	}

	buf, err := marshalIndented(doc)
	if err != nil {
		return fmt.Errorf("journal: marshaling: %w", err)
	}

	if err := j.backupExisting(); err != nil {
		return err
	}

	if err := j.sandbox.AtomicWriteFsync(j.path, buf, 0o644); err != nil {
		return fmt.Errorf("journal: writing %s: %w", j.path, err)
	}
	return nil
}

// backupExisting renames the current journal file to "<name>.backup" if
// it exists, before the new file is written into place. Missing files are
// not an error (first run).
func (j *Journal) backupExisting() error {
	if err := j.sandbox.Rename(j.path, j.path+".backup"); err != nil {
		if storage.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("journal: backing up %s: %w", j.path, err)
	}
	return nil
}

// Load reads the journal file and returns the jobs it records, already
// expanded (no re-expansion is performed on load). A missing or corrupt
// journal is not fatal: it returns (nil, nil) so the scheduler starts
// empty, matching the "log and continue" recovery policy.
func (j *Journal) Load() ([]*job.Job, error) {
	data, err := j.sandbox.ReadFile(j.path)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: reading %s: %w", j.path, err)
	}

	var doc journalDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil // corrupt journal: not fatal, caller logs and starts empty
	}

	doc = migrate(doc)

	jobs := make([]*job.Job, 0, len(doc.Recordings))
	for _, entry := range doc.Recordings {
		jb, err := fromEntry(entry)
		if err != nil {
			continue
		}
		jobs = append(jobs, jb)
	}
	return jobs, nil
}

// migrate upgrades an older-schema document to CurrentVersion. There is
// only one version so far; this is the seam the schema-versioning
// requirement calls for.
func migrate(doc journalDoc) journalDoc {
	if doc.Version == CurrentVersion {
		return doc
	}
	doc.Version = CurrentVersion
	return doc
}

func toEntry(jb *job.Job) journalEntry {
	return journalEntry{
		SeqNbr:          jb.SeqNbr,
		Device:          jb.Device,
		Channel:         jb.Channel,
		Title:           jb.Title,
		Filename:        jb.Filename,
		TsStart:         jb.TsStart.Unix(),
		TsEnd:           jb.TsEnd.Unix(),
		DateStartHuman:  jb.TsStart.Format(humanDateLayout),
		DateEndHuman:    jb.TsEnd.Format(humanDateLayout),
		RecurrenceID:    jb.RecurrenceID,
		RecurrenceType:  jb.RecurrenceType.String(),
		RecurrenceCount: jb.RecurrenceCount,
		RecurrenceIndex: jb.RecurrenceIndex,
		Profiles:        jb.TranscodingProfiles,
		ManglingMode:    int(jb.RecurrenceMangling),
		ManglingPrefix:  jb.RecurrenceManglingPrefix,
	}
}

func fromEntry(e journalEntry) (*job.Job, error) {
	rt, err := calendar.ParseRecurrenceType(e.RecurrenceType)
	if err != nil {
		rt = calendar.RecurrenceSingle
	}
	return &job.Job{
		SeqNbr:                   e.SeqNbr,
		Device:                   e.Device,
		Title:                    e.Title,
		Filename:                 e.Filename,
		Channel:                  e.Channel,
		TsStart:                  time.Unix(e.TsStart, 0),
		TsEnd:                    time.Unix(e.TsEnd, 0),
		Recurrence:               e.RecurrenceID != 0,
		RecurrenceID:             e.RecurrenceID,
		RecurrenceType:           rt,
		RecurrenceCount:          e.RecurrenceCount,
		RecurrenceIndex:          e.RecurrenceIndex,
		TranscodingProfiles:      e.Profiles,
		RecurrenceMangling:       calendar.ManglingMode(e.ManglingMode),
		RecurrenceManglingPrefix: e.ManglingPrefix,
	}, nil
}

func marshalIndented(doc journalDoc) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
