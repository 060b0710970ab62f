// Package scheduler owns the per-device pending queues, in-flight slots,
// exclusion-set table, profile registry, and journal handle behind a single
// global lock ("recs mutex"), and exposes the narrow admission API that
// command/HTTP frontends, the dispatcher, and the power controller are
// allowed to call. Grounded on original_source/src/recs.c for the admission
// rules (isentryoverlapping/chkcollision, insertentry/deleteentry) and on
// the teacher's internal/scheduler.Scheduler for the "one struct owns
// everything behind a mutex" shape.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tvcaptd/tvcaptd/internal/calendar"
	"github.com/tvcaptd/tvcaptd/internal/job"
	"github.com/tvcaptd/tvcaptd/internal/journal"
	"github.com/tvcaptd/tvcaptd/internal/models"
	"github.com/tvcaptd/tvcaptd/internal/profile"
	"github.com/tvcaptd/tvcaptd/pkg/chanid"
)

// ProfileReloader is the subset of *profile.Loader that RefreshProfiles
// calls; an interface so tests can substitute a fake.
type ProfileReloader interface {
	Load() error
}

// Config bundles the scheduler's tunable limits, separate from the
// runtime collaborators passed to New.
type Config struct {
	NumDevices           int
	MaxEntriesPerDevice  int
	MaxPerJobProfiles    int
	MaxRecordingDuration time.Duration
	MissedThreshold      time.Duration
}

// Scheduler owns all pending queues, in-flight slots, the exclusion table,
// the profile registry reference, and the journal handle. Methods that read
// or change queue, in-flight or exclusion state hold the global mutex while
// doing so; callers never see a partially-updated state. Request validation
// and profile lookups run before the mutex is taken, and the per-device
// abort flags are atomics read and set without it.
type Scheduler struct {
	mu sync.Mutex

	cfg Config

	clock     calendar.Clock
	resolver  chanid.Resolver
	profiles  *profile.Registry
	journal   *journal.Journal
	logger    *slog.Logger

	pending    []*job.PendingQueue
	inFlight   []*job.Job
	abortFlags []*atomic.Bool
	exclusions *job.ExclusionSet

	nextSeqNbr       int64
	nextRecurrenceID int64

	profileReloader ProfileReloader
	transcodeKiller func(onShutdown bool)
}

// New constructs a Scheduler with empty queues. Call LoadFromJournal
// afterward to restore persisted state.
func New(cfg Config, clock calendar.Clock, resolver chanid.Resolver, profiles *profile.Registry, j *journal.Journal, logger *slog.Logger) *Scheduler {
	if cfg.NumDevices <= 0 {
		cfg.NumDevices = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:        cfg,
		clock:      clock,
		resolver:   resolver,
		profiles:   profiles,
		journal:    j,
		logger:     logger,
		pending:    make([]*job.PendingQueue, cfg.NumDevices),
		inFlight:   make([]*job.Job, cfg.NumDevices),
		abortFlags: make([]*atomic.Bool, cfg.NumDevices),
		exclusions: job.NewExclusionSet(),
	}
	// Zero is never issued: a zero recurrence_id reads back as non-recurring.
	s.nextSeqNbr, s.nextRecurrenceID = 1, 1
	for i := 0; i < cfg.NumDevices; i++ {
		s.pending[i] = job.NewPendingQueue(cfg.MaxEntriesPerDevice)
		s.abortFlags[i] = &atomic.Bool{}
	}
	return s
}

// SetProfileReloader injects the collaborator RefreshProfiles delegates to.
func (s *Scheduler) SetProfileReloader(r ProfileReloader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileReloader = r
}

// SetTranscodeKiller injects the collaborator KillAllTranscodes delegates
// to; called with true when the kill happens as part of shutdown.
func (s *Scheduler) SetTranscodeKiller(fn func(onShutdown bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcodeKiller = fn
}

// LoadFromJournal restores pending jobs recorded in the journal into their
// device queues, and advances the seq_nbr/recurrence_id counters past the
// highest values found so newly inserted jobs never collide with restored
// ones. A missing or corrupt journal leaves the scheduler empty, matching
// the "log and continue" recovery policy.
func (s *Scheduler) LoadFromJournal() error {
	jobs, err := s.journal.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, jb := range jobs {
		if jb.Device < 0 || jb.Device >= s.cfg.NumDevices {
			s.logger.Warn("journal: dropping job for out-of-range device", "seq_nbr", jb.SeqNbr, "device", jb.Device)
			continue
		}
		if err := s.pending[jb.Device].Insert(jb); err != nil {
			s.logger.Warn("journal: dropping job that no longer fits its queue", "seq_nbr", jb.SeqNbr, "error", err)
			continue
		}
		if jb.SeqNbr >= s.nextSeqNbr {
			s.nextSeqNbr = jb.SeqNbr + 1
		}
		if jb.RecurrenceID >= s.nextRecurrenceID {
			s.nextRecurrenceID = jb.RecurrenceID + 1
		}
	}
	s.logger.Info("journal: restored pending jobs", "count", len(jobs))
	return nil
}

// Insert validates and admits req, expanding a recurring template into
// concrete occurrences first; either every expanded occurrence is inserted
// or none are. Returns the sequence number of the last inserted job.
func (s *Scheduler) Insert(req InsertRequest) (int64, error) {
	if err := validateTimes(req.TsStart, req.TsEnd, s.cfg.MaxRecordingDuration, s.clock.Now()); err != nil {
		return 0, err
	}
	if _, ok := s.resolver.Resolve(req.Channel); !ok {
		return 0, models.ErrUnknownChannel
	}
	profiles, err := s.resolveProfiles(req.Profiles)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	occurrences := s.expand(req, profiles)

	candidates := s.candidateDevices(req.DeviceHint)
	var lastErr error = models.ErrCollides
	for _, device := range candidates {
		if !s.fits(device, occurrences) {
			if q := s.pending[device]; q.Len()+len(occurrences) > q.MaxEntries {
				lastErr = models.ErrQueueFull
			}
			continue
		}
		return s.commit(device, occurrences), nil
	}
	return 0, lastErr
}

// resolveProfiles validates every requested profile name against the
// registry, returning ErrUnknownProfile on the first miss. An empty
// request falls back to a single-element list holding the registry's
// default/fallback profile.
func (s *Scheduler) resolveProfiles(names []string) ([]string, error) {
	if len(names) == 0 {
		rec, ok := s.profiles.Lookup("")
		if !ok {
			return nil, models.ErrUnknownProfile
		}
		return []string{rec.Name}, nil
	}
	if s.cfg.MaxPerJobProfiles > 0 && len(names) > s.cfg.MaxPerJobProfiles {
		s.logger.Warn("insert: truncating profile list to configured maximum",
			"requested", len(names), "max", s.cfg.MaxPerJobProfiles)
		names = names[:s.cfg.MaxPerJobProfiles]
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		// Lookup falls back to another profile on a miss, so compare names.
		rec, ok := s.profiles.Lookup(name)
		if !ok || rec.Name != name {
			return nil, models.ErrUnknownProfile
		}
		out = append(out, rec.Name)
	}
	return out, nil
}

// expand turns req into one or more concrete Job drafts (seq_nbr/device
// still unassigned), applying recurrence expansion, exclusion skipping, and
// name mangling as specified in §4.2. Must be called with s.mu held only
// for its recurrence_id peek; the returned jobs carry no device assignment
// yet.
func (s *Scheduler) expand(req InsertRequest, profiles []string) []*job.Job {
	if !req.Recurrence || req.RecurrenceType == calendar.RecurrenceSingle {
		return []*job.Job{{
			Title:               req.Title,
			Filename:            req.Filename,
			Channel:             req.Channel,
			TsStart:             req.TsStart,
			TsEnd:               req.TsEnd,
			TranscodingProfiles: profiles,
		}}
	}

	recurrenceID := s.nextRecurrenceID
	s.nextRecurrenceID++

	start, end := calendar.AdjustInitial(req.RecurrenceType, req.TsStart, req.TsEnd)
	startNumber := req.RecurrenceStartNumber
	if startNumber <= 0 {
		startNumber = 1
	}

	occurrences := make([]*job.Job, 0, req.RecurrenceCount)
	remaining := req.RecurrenceCount
	for index := 1; index <= req.RecurrenceCount; index++ {
		if s.exclusions.Contains(recurrenceID, index) {
			start, end = calendar.Advance(req.RecurrenceType, start, end)
			remaining--
			continue
		}
		suffix := calendar.Mangle(req.RecurrenceMangling, manglingPrefix(req.RecurrenceManglingPrefix), req.Title, index, req.RecurrenceCount, startNumber, start)
		filenameSuffix := calendar.Mangle(req.RecurrenceMangling, manglingPrefix(req.RecurrenceManglingPrefix), req.Filename, index, req.RecurrenceCount, startNumber, start)

		occurrences = append(occurrences, &job.Job{
			Title:                    suffix,
			Filename:                 filenameSuffix,
			Channel:                  req.Channel,
			TsStart:                  start,
			TsEnd:                    end,
			TranscodingProfiles:      profiles,
			Recurrence:               true,
			RecurrenceType:           req.RecurrenceType,
			RecurrenceID:             recurrenceID,
			RecurrenceCount:          remaining,
			RecurrenceStartNumber:    startNumber,
			RecurrenceIndex:          index,
			RecurrenceMangling:       req.RecurrenceMangling,
			RecurrenceManglingPrefix: manglingPrefix(req.RecurrenceManglingPrefix),
			RecurrenceTitle:          req.Title,
			RecurrenceFilename:       req.Filename,
		})
		start, end = calendar.Advance(req.RecurrenceType, start, end)
		remaining--
	}
	return occurrences
}

func manglingPrefix(p string) string {
	if p == "" {
		return job.DefaultManglingPrefix
	}
	return p
}

// candidateDevices returns the device indices to try, in order, for a
// device_hint. DeviceAny tries every device lowest-index first.
func (s *Scheduler) candidateDevices(hint int) []int {
	if hint != DeviceAny {
		if hint < 0 || hint >= s.cfg.NumDevices {
			return nil
		}
		return []int{hint}
	}
	out := make([]int, s.cfg.NumDevices)
	for i := range out {
		out[i] = i
	}
	return out
}

// fits reports whether every occurrence can be inserted into device's
// queue: capacity for the whole batch and no collision with any existing
// pending job, the in-flight job, or another occurrence in the same batch.
func (s *Scheduler) fits(device int, occurrences []*job.Job) bool {
	q := s.pending[device]
	if q.Len()+len(occurrences) > q.MaxEntries {
		return false
	}
	inFlight := s.inFlight[device]
	for i, occ := range occurrences {
		if inFlight != nil && job.Overlaps(occ.TsStart, occ.TsEnd, inFlight.TsStart, inFlight.TsEnd) {
			return false
		}
		if q.CollidesJob(occ) {
			return false
		}
		for k, other := range occurrences {
			if k == i {
				continue
			}
			if job.Overlaps(occ.TsStart, occ.TsEnd, other.TsStart, other.TsEnd) {
				return false
			}
		}
	}
	return true
}

// commit assigns sequence numbers and device, inserts every occurrence into
// device's queue, and journals the result. Returns the last seq_nbr
// assigned. Must be called with s.mu held.
func (s *Scheduler) commit(device int, occurrences []*job.Job) int64 {
	var lastSeq int64
	for _, occ := range occurrences {
		occ.Device = device
		occ.SeqNbr = s.nextSeqNbr
		s.nextSeqNbr++
		_ = s.pending[device].Insert(occ) // capacity already checked in fits
		lastSeq = occ.SeqNbr
	}
	s.journalLocked()
	return lastSeq
}

// Delete removes the job identified by seqNbr. With DeleteThisOnly, a
// recurring occurrence's index is recorded in its series' ExclusionSet.
// With DeleteWholeSeries, every live occurrence sharing its recurrence_id
// is removed and the exclusion entry is purged.
func (s *Scheduler) Delete(seqNbr int64, scope DeleteScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, found := s.findBySeq(seqNbr)
	if !found {
		return models.ErrNotFound
	}

	target := s.pending[device].FindBySeq(seqNbr)
	if target == nil {
		return models.ErrNotFound
	}

	if scope == DeleteWholeSeries && target.Recurrence {
		s.pending[device].RemoveByRecurrenceID(target.RecurrenceID)
		s.exclusions.Purge(target.RecurrenceID)
	} else {
		s.pending[device].RemoveBySeq(seqNbr)
		if target.Recurrence {
			s.exclusions.Add(target.RecurrenceID, occurrenceIndex(target))
		}
	}

	s.journalLocked()
	return nil
}

// occurrenceIndex returns the 1-based occurrence index of an expanded job
// within its series, as recorded at expansion time.
func occurrenceIndex(j *job.Job) int {
	return j.RecurrenceIndex
}

// UpdateProfile replaces the primary (position-zero) profile slot of the
// identified pending job, rejecting unknown profile names. Has no effect on
// an already in-flight job (callers must check InFlight separately; this
// method only ever touches pending queues).
func (s *Scheduler) UpdateProfile(seqNbr int64, profileName string) (bool, error) {
	if rec, ok := s.profiles.Lookup(profileName); !ok || rec.Name != profileName {
		return false, models.ErrUnknownProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	device, found := s.findBySeq(seqNbr)
	if !found {
		return false, models.ErrNotFound
	}
	target := s.pending[device].FindBySeq(seqNbr)
	if target == nil {
		return false, models.ErrNotFound
	}
	if len(target.TranscodingProfiles) == 0 {
		target.TranscodingProfiles = []string{profileName}
	} else {
		target.TranscodingProfiles[0] = profileName
	}
	s.journalLocked()
	return true, nil
}

// findBySeq locates which device's queue holds seqNbr. Must be called with
// s.mu held.
func (s *Scheduler) findBySeq(seqNbr int64) (int, bool) {
	for device, q := range s.pending {
		if q.FindBySeq(seqNbr) != nil {
			return device, true
		}
	}
	return 0, false
}

// List returns every pending and in-flight job across all devices in global
// start-time order, a stable snapshot independent of further mutation.
func (s *Scheduler) List() []JobSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// ListWithTimestamps is List's alias for the power-controller wake
// companion's "list with timestamps" query; both return the same
// projection since every JobSummary already carries absolute timestamps.
func (s *Scheduler) ListWithTimestamps() []JobSummary {
	return s.List()
}

func (s *Scheduler) listLocked() []JobSummary {
	var out []JobSummary
	for device, q := range s.pending {
		for _, jb := range q.Jobs() {
			out = append(out, toSummary(jb, false))
		}
		if inFlight := s.inFlight[device]; inFlight != nil {
			out = append(out, toSummary(inFlight, true))
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].TsStart.Equal(out[k].TsStart) {
			return out[i].SeqNbr < out[k].SeqNbr
		}
		return out[i].TsStart.Before(out[k].TsStart)
	})
	return out
}

func toSummary(jb *job.Job, inFlight bool) JobSummary {
	return JobSummary{
		SeqNbr:          jb.SeqNbr,
		Device:          jb.Device,
		Title:           jb.Title,
		Channel:         jb.Channel,
		Filename:        jb.Filename,
		TsStart:         jb.TsStart,
		TsEnd:           jb.TsEnd,
		RecurrenceID:    jb.RecurrenceID,
		RecurrenceType:  jb.RecurrenceType.String(),
		RecurrenceCount: jb.RecurrenceCount,
		Profiles:        jb.TranscodingProfiles,
		InFlight:        inFlight,
	}
}

// Head returns the earliest-start pending job on device, if any.
func (s *Scheduler) Head(device int) (JobSummary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device < 0 || device >= s.cfg.NumDevices {
		return JobSummary{}, false, models.ErrNotFound
	}
	h := s.pending[device].Head()
	if h == nil {
		return JobSummary{}, false, nil
	}
	return toSummary(h, false), true, nil
}

// InFlight returns the job currently capturing on device, if any.
func (s *Scheduler) InFlight(device int) (JobSummary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device < 0 || device >= s.cfg.NumDevices {
		return JobSummary{}, false, models.ErrNotFound
	}
	jb := s.inFlight[device]
	if jb == nil {
		return JobSummary{}, false, nil
	}
	return toSummary(jb, true), true, nil
}

// NextScheduled returns the globally-earliest pending head across all
// devices, ties broken by device index; used by the power controller to
// gate shutdown on "time to next job".
func (s *Scheduler) NextScheduled() (device int, at time.Time, summary JobSummary, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := -1
	for d, q := range s.pending {
		h := q.Head()
		if h == nil {
			continue
		}
		if best == -1 || h.TsStart.Before(s.pending[best].Head().TsStart) {
			best = d
		}
	}
	if best == -1 {
		return 0, time.Time{}, JobSummary{}, false
	}
	h := s.pending[best].Head()
	return best, h.TsStart, toSummary(h, false), true
}

// Abort sets device's abort flag, observed by the capture worker's read
// loop at the next iteration boundary.
func (s *Scheduler) Abort(device int) error {
	if device < 0 || device >= s.cfg.NumDevices {
		return models.ErrNotFound
	}
	s.abortFlags[device].Store(true)
	return nil
}

// AbortFlag returns the atomic abort flag for device, read lock-free by the
// capture worker's inner loop.
func (s *Scheduler) AbortFlag(device int) *atomic.Bool {
	return s.abortFlags[device]
}

// RefreshProfiles triggers a reload of the profile registry through the
// injected loader, in addition to whatever fsnotify-driven reload is
// already running.
func (s *Scheduler) RefreshProfiles() error {
	s.mu.Lock()
	reloader := s.profileReloader
	s.mu.Unlock()
	if reloader == nil {
		return fmt.Errorf("scheduler: no profile reloader configured")
	}
	return reloader.Load()
}

// KillAllTranscodes asks the injected transcode pool to terminate every
// active transcode's process group. onShutdown distinguishes an operator
// request from the shutdown sequence's own teardown step.
func (s *Scheduler) KillAllTranscodes(onShutdown bool) {
	s.mu.Lock()
	killer := s.transcodeKiller
	s.mu.Unlock()
	if killer != nil {
		killer(onShutdown)
	}
}

// NumDevices returns the configured device count.
func (s *Scheduler) NumDevices() int { return s.cfg.NumDevices }

// AnyInFlight reports whether any device currently has a capture running,
// used by the power controller's shutdown gate.
func (s *Scheduler) AnyInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.inFlight {
		if j != nil {
			return true
		}
	}
	return false
}

func validateTimes(start, end time.Time, maxDuration time.Duration, now time.Time) error {
	if !end.After(start) {
		return models.ErrEndBeforeStart
	}
	if end.Sub(start) > maxDuration {
		return models.ErrTooLong
	}
	if !start.After(now) {
		return models.ErrStartInPast
	}
	return nil
}

func (s *Scheduler) journalLocked() {
	var all []*job.Job
	for _, q := range s.pending {
		all = append(all, q.Jobs()...)
	}
	if err := s.journal.Save(all); err != nil {
		s.logger.Error("journal: write failed, in-memory state remains authoritative", "error", err)
	}
}
