// Package history implements the bounded recording-history ledger: the
// authoritative XML journal (mirroring internal/journal's atomic-write
// pattern) plus a gorm-backed sqlite read cache the admin HTTP surface
// queries without re-parsing XML on every request.
package history

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"github.com/tvcaptd/tvcaptd/internal/storage"
)

// CurrentVersion is the history-journal schema version written by this build.
const CurrentVersion = 1

const humanDateLayout = "2006-01-02"
const humanTimeLayout = "15:04:05"

// Record is one completed recording/transcode outcome.
type Record struct {
	Title          string
	TimestampStart time.Time
	TimestampEnd   time.Time
	FilePath       string
	FileDir        string
	Profile        string
}

type historyDoc struct {
	XMLName xml.Name       `xml:"tvpvrdhistory"`
	Version int            `xml:"version,attr"`
	Entries []historyEntry `xml:"entry"`
}

type historyEntry struct {
	Title          string `xml:"title"`
	TimestampStart int64  `xml:"timestampstart"`
	TimestampEnd   int64  `xml:"timestampend"`
	DateStart      string `xml:"datestart"`
	DateEnd        string `xml:"dateend"`
	TimeStart      string `xml:"timestart"`
	TimeEnd        string `xml:"timeend"`
	FilePath       string `xml:"filepath"`
	FileDir        string `xml:"filepath,attr,dir"`
	Profile        string `xml:"profile"`
}

// Cache is the read-cache collaborator a Ledger mirrors every append into;
// satisfied by *GormCache over internal/database's gorm connection, kept as a narrow
// interface so the ledger's own tests don't need a real database.
type Cache interface {
	Append(r Record) error
	Rebuild(records []Record) error
}

// Ledger is the bounded, XML-authoritative recording history. The ring is
// bounded at the maxEntries passed to New (HISTORY_LENGTH, default 64);
// the oldest entry is dropped once the bound is exceeded, matching the
// original's fixed-size history buffer.
type Ledger struct {
	mu         sync.Mutex
	sandbox    *storage.Sandbox
	path       string
	maxEntries int
	cache      Cache
	records    []Record
}

// New constructs a Ledger writing to relPath inside sandbox, bounded at
// maxEntries. cache may be nil when no read-cache mirror is configured.
func New(sandbox *storage.Sandbox, relPath string, maxEntries int, cache Cache) *Ledger {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	return &Ledger{sandbox: sandbox, path: relPath, maxEntries: maxEntries, cache: cache}
}

// Load reads the XML history journal (the authoritative persisted form)
// and rebuilds the in-memory ring and, if configured, the sqlite read
// cache. A missing or corrupt file is not fatal: history starts empty.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.sandbox.ReadFile(l.path)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("history: reading %s: %w", l.path, err)
	}

	var doc historyDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil
	}

	l.records = l.records[:0]
	for _, e := range doc.Entries {
		l.records = append(l.records, fromEntry(e))
	}
	l.trimLocked()

	if l.cache != nil {
		if err := l.cache.Rebuild(l.records); err != nil {
			return fmt.Errorf("history: rebuilding read cache: %w", err)
		}
	}
	return nil
}

// Append records a completed recording, dropping the oldest entry if the
// ring is already at capacity, then rewrites the XML journal and mirrors
// the new record into the read cache.
func (l *Ledger) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, r)
	l.trimLocked()

	if err := l.saveLocked(); err != nil {
		return err
	}
	if l.cache != nil {
		if err := l.cache.Append(r); err != nil {
			return fmt.Errorf("history: mirroring to read cache: %w", err)
		}
	}
	return nil
}

// Records returns a copy of the current ring, oldest first.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) trimLocked() {
	if len(l.records) <= l.maxEntries {
		return
	}
	drop := len(l.records) - l.maxEntries
	l.records = append(l.records[:0:0], l.records[drop:]...)
}

func (l *Ledger) saveLocked() error {
	doc := historyDoc{Version: CurrentVersion}
	for _, r := range l.records {
		doc.Entries = append(doc.Entries, toEntry(r))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("history: marshaling: %w", err)
	}

	if err := l.sandbox.AtomicWriteFsync(l.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("history: writing %s: %w", l.path, err)
	}
	return nil
}

func toEntry(r Record) historyEntry {
	return historyEntry{
		Title:          r.Title,
		TimestampStart: r.TimestampStart.Unix(),
		TimestampEnd:   r.TimestampEnd.Unix(),
		DateStart:      r.TimestampStart.Format(humanDateLayout),
		DateEnd:        r.TimestampEnd.Format(humanDateLayout),
		TimeStart:      r.TimestampStart.Format(humanTimeLayout),
		TimeEnd:        r.TimestampEnd.Format(humanTimeLayout),
		FilePath:       r.FilePath,
		FileDir:        r.FileDir,
		Profile:        r.Profile,
	}
}

func fromEntry(e historyEntry) Record {
	return Record{
		Title:          e.Title,
		TimestampStart: time.Unix(e.TimestampStart, 0),
		TimestampEnd:   time.Unix(e.TimestampEnd, 0),
		FilePath:       e.FilePath,
		FileDir:        e.FileDir,
		Profile:        e.Profile,
	}
}
