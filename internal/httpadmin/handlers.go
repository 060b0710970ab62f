// Package httpadmin exposes the scheduler's narrow admission API surface
// (spec §4.12/§6) over JSON: add, delete, update-profile, list,
// list-with-timestamps, abort and refresh-profiles, plus a status route
// that reports each device's in-flight job and the next scheduled job.
// Head and kill-all-transcodes are part of the Scheduler interface but
// have no route. It never calls into the
// capture worker or transcode pool directly; every write goes through
// *scheduler.Scheduler so the same global lock and admission checks a
// command-shell frontend would use still apply. Grounded on
// internal/http/server.go's chi+huma wiring.
package httpadmin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tvcaptd/tvcaptd/internal/calendar"
	"github.com/tvcaptd/tvcaptd/internal/models"
	"github.com/tvcaptd/tvcaptd/internal/scheduler"
)

// Scheduler is the subset of *scheduler.Scheduler the admin API calls.
// Narrowed to an interface so handlers can be tested against a fake.
type Scheduler interface {
	Insert(req scheduler.InsertRequest) (int64, error)
	Delete(seqNbr int64, scope scheduler.DeleteScope) error
	UpdateProfile(seqNbr int64, profileName string) (bool, error)
	List() []scheduler.JobSummary
	ListWithTimestamps() []scheduler.JobSummary
	Head(device int) (scheduler.JobSummary, bool, error)
	InFlight(device int) (scheduler.JobSummary, bool, error)
	NextScheduled() (device int, at time.Time, summary scheduler.JobSummary, ok bool)
	Abort(device int) error
	RefreshProfiles() error
	KillAllTranscodes(onShutdown bool)
	NumDevices() int
}

// TranscodeActivity reports the transcode pool's current occupancy for the
// status endpoint.
type TranscodeActivity interface {
	ActiveCount() int
}

// Handler implements the admin JSON API.
type Handler struct {
	sched      Scheduler
	transcodes TranscodeActivity
	logger     *slog.Logger
}

// New constructs a Handler. transcodes may be nil, in which case the
// status endpoint reports zero active transcodes.
func New(sched Scheduler, transcodes TranscodeActivity, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sched: sched, transcodes: transcodes, logger: logger}
}

// Register wires every admin operation onto api.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/status",
		Summary:     "Scheduler and device status",
		Tags:        []string{"Scheduler"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/jobs",
		Summary:     "List pending and in-flight jobs in global start-time order",
		Tags:        []string{"Scheduler"},
	}, h.ListJobs)

	huma.Register(api, huma.Operation{
		OperationID: "addJob",
		Method:      "POST",
		Path:        "/jobs",
		Summary:     "Admit a new recording request, expanding recurrence if present",
		Tags:        []string{"Scheduler"},
	}, h.AddJob)

	huma.Register(api, huma.Operation{
		OperationID: "deleteJob",
		Method:      "DELETE",
		Path:        "/jobs/{seq}",
		Summary:     "Delete a pending job by sequence number",
		Tags:        []string{"Scheduler"},
	}, h.DeleteJob)

	huma.Register(api, huma.Operation{
		OperationID: "updateJobProfile",
		Method:      "POST",
		Path:        "/jobs/{seq}/profile",
		Summary:     "Replace the primary transcoding profile of a pending job",
		Tags:        []string{"Scheduler"},
	}, h.UpdateJobProfile)

	huma.Register(api, huma.Operation{
		OperationID: "abortDevice",
		Method:      "POST",
		Path:        "/abort/{device}",
		Summary:     "Signal the capture worker on device to abort its recording",
		Tags:        []string{"Scheduler"},
	}, h.AbortDevice)

	huma.Register(api, huma.Operation{
		OperationID: "refreshProfiles",
		Method:      "POST",
		Path:        "/profiles/refresh",
		Summary:     "Reload the transcoding profile registry from disk",
		Tags:        []string{"Scheduler"},
	}, h.RefreshProfiles)
}

// StatusInput is the GET /status request; it takes no parameters.
type StatusInput struct{}

// StatusOutput is the /status response body.
type StatusOutput struct {
	Body StatusResponse
}

// StatusResponse reports per-device queue depth/in-flight state and the
// transcode pool's current occupancy.
type StatusResponse struct {
	Devices          []DeviceStatus `json:"devices"`
	ActiveTranscodes int            `json:"active_transcodes"`
	NextScheduled    *JobView       `json:"next_scheduled,omitempty"`
}

// DeviceStatus summarizes one device's queue.
type DeviceStatus struct {
	Device       int      `json:"device"`
	PendingCount int      `json:"pending_count"`
	InFlight     *JobView `json:"in_flight,omitempty"`
}

// GetStatus reports queue depth, in-flight occupancy, and transcode pool
// load across every device — the projection the power controller's wake
// companion and any monitoring frontend both need.
func (h *Handler) GetStatus(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	n := h.sched.NumDevices()
	devices := make([]DeviceStatus, n)
	for d := 0; d < n; d++ {
		devices[d] = DeviceStatus{Device: d}
		if inFlight, ok, _ := h.sched.InFlight(d); ok {
			v := toView(inFlight)
			devices[d].InFlight = &v
		}
	}

	for _, j := range h.sched.List() {
		if !j.InFlight {
			devices[j.Device].PendingCount++
		}
	}

	active := 0
	if h.transcodes != nil {
		active = h.transcodes.ActiveCount()
	}

	resp := StatusResponse{Devices: devices, ActiveTranscodes: active}
	if _, _, summary, ok := h.sched.NextScheduled(); ok {
		v := toView(summary)
		resp.NextScheduled = &v
	}

	return &StatusOutput{Body: resp}, nil
}

// JobView is the wire projection of a scheduler.JobSummary.
type JobView struct {
	SeqNbr          int64     `json:"seq_nbr"`
	Device          int       `json:"device"`
	Title           string    `json:"title"`
	Channel         string    `json:"channel"`
	Filename        string    `json:"filename"`
	TsStart         time.Time `json:"ts_start"`
	TsEnd           time.Time `json:"ts_end"`
	RecurrenceID    int64     `json:"recurrence_id,omitempty"`
	RecurrenceType  string    `json:"recurrence_type,omitempty"`
	RecurrenceCount int       `json:"recurrence_count,omitempty"`
	Profiles        []string  `json:"profiles"`
	InFlight        bool      `json:"in_flight"`
}

func toView(j scheduler.JobSummary) JobView {
	return JobView{
		SeqNbr:          j.SeqNbr,
		Device:          j.Device,
		Title:           j.Title,
		Channel:         j.Channel,
		Filename:        j.Filename,
		TsStart:         j.TsStart,
		TsEnd:           j.TsEnd,
		RecurrenceID:    j.RecurrenceID,
		RecurrenceType:  j.RecurrenceType,
		RecurrenceCount: j.RecurrenceCount,
		Profiles:        j.Profiles,
		InFlight:        j.InFlight,
	}
}

// ListJobsInput supports the "with timestamps" variant the wake companion
// polls (spec §4.8); both projections carry absolute timestamps already,
// so the query parameter only controls which scheduler method is called,
// not the shape of the response.
type ListJobsInput struct {
	WithTimestamps bool `query:"with_timestamps" doc:"retained for API-surface parity with spec §6's list_with_timestamps; both forms return the same projection"`
}

// ListJobsOutput is the /jobs response body.
type ListJobsOutput struct {
	Body ListJobsResponse
}

// ListJobsResponse carries every pending and in-flight job in global
// start-time order.
type ListJobsResponse struct {
	Jobs []JobView `json:"jobs"`
}

// ListJobs returns every pending and in-flight job across all devices.
func (h *Handler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	var summaries []scheduler.JobSummary
	if input.WithTimestamps {
		summaries = h.sched.ListWithTimestamps()
	} else {
		summaries = h.sched.List()
	}
	jobs := make([]JobView, 0, len(summaries))
	for _, s := range summaries {
		jobs = append(jobs, toView(s))
	}
	return &ListJobsOutput{Body: ListJobsResponse{Jobs: jobs}}, nil
}

// AddJobInput is the POST /jobs request body.
type AddJobInput struct {
	Body AddJobRequest
}

// AddJobRequest describes one add operation (spec §4.1's insert).
type AddJobRequest struct {
	DeviceHint int       `json:"device_hint,omitempty" doc:"device index above 0; 0, -1 or omitted selects 'any'"`
	Title      string    `json:"title" doc:"recording title" minLength:"1" maxLength:"255"`
	Filename   string    `json:"filename" doc:"base filename, sans extension" minLength:"1" maxLength:"255"`
	Channel    string    `json:"channel" doc:"opaque channel name, resolved through the station table" minLength:"1"`
	TsStart    time.Time `json:"ts_start" doc:"absolute start instant"`
	TsEnd      time.Time `json:"ts_end" doc:"absolute end instant"`
	Profiles   []string  `json:"profiles,omitempty" doc:"transcoding profile names, position zero is primary"`

	Recurrence               bool   `json:"recurrence,omitempty"`
	RecurrenceType           string `json:"recurrence_type,omitempty" doc:"single, daily, weekly, monthly, mon_fri, sat_sun, mon_thu"`
	RecurrenceCount          int    `json:"recurrence_count,omitempty"`
	RecurrenceStartNumber    int    `json:"recurrence_start_number,omitempty"`
	RecurrenceMangling       int    `json:"recurrence_mangling,omitempty" doc:"0=date, 1=count, 2=episode"`
	RecurrenceManglingPrefix string `json:"recurrence_mangling_prefix,omitempty"`
}

// AddJobOutput is the POST /jobs response body.
type AddJobOutput struct {
	Body AddJobResponse
}

// AddJobResponse carries the sequence number of the last occurrence
// inserted, matching insert's documented return value.
type AddJobResponse struct {
	SeqNbr int64 `json:"seq_nbr"`
}

// AddJob admits req, translating it into a scheduler.InsertRequest and
// mapping every documented error kind (spec §7) onto a matching HTTP
// status.
func (h *Handler) AddJob(ctx context.Context, input *AddJobInput) (*AddJobOutput, error) {
	body := input.Body

	deviceHint := scheduler.DeviceAny
	if body.DeviceHint > 0 {
		deviceHint = body.DeviceHint
	}

	recurrenceType := calendar.RecurrenceSingle
	if body.Recurrence {
		rt, err := calendar.ParseRecurrenceType(body.RecurrenceType)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("unknown recurrence type", err)
		}
		recurrenceType = rt
	}

	req := scheduler.InsertRequest{
		DeviceHint:               deviceHint,
		Title:                    body.Title,
		Filename:                 body.Filename,
		Channel:                  body.Channel,
		TsStart:                  body.TsStart,
		TsEnd:                    body.TsEnd,
		Profiles:                 body.Profiles,
		Recurrence:               body.Recurrence,
		RecurrenceType:           recurrenceType,
		RecurrenceCount:          body.RecurrenceCount,
		RecurrenceStartNumber:    body.RecurrenceStartNumber,
		RecurrenceMangling:       calendar.ManglingMode(body.RecurrenceMangling),
		RecurrenceManglingPrefix: body.RecurrenceManglingPrefix,
	}

	seq, err := h.sched.Insert(req)
	if err != nil {
		return nil, schedulerErrorToHuma(err)
	}
	return &AddJobOutput{Body: AddJobResponse{SeqNbr: seq}}, nil
}

// DeleteJobInput is the DELETE /jobs/{seq} request.
type DeleteJobInput struct {
	Seq   int64  `path:"seq"`
	Scope string `query:"scope" doc:"this_only (default) or whole_series"`
}

// DeleteJobOutput is the DELETE /jobs/{seq} response.
type DeleteJobOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// DeleteJob removes the job identified by input.Seq, per scope.
func (h *Handler) DeleteJob(ctx context.Context, input *DeleteJobInput) (*DeleteJobOutput, error) {
	scope := scheduler.DeleteThisOnly
	if input.Scope == "whole_series" {
		scope = scheduler.DeleteWholeSeries
	}
	if err := h.sched.Delete(input.Seq, scope); err != nil {
		return nil, schedulerErrorToHuma(err)
	}
	out := &DeleteJobOutput{}
	out.Body.Deleted = true
	return out, nil
}

// UpdateJobProfileInput is the POST /jobs/{seq}/profile request.
type UpdateJobProfileInput struct {
	Seq  int64 `path:"seq"`
	Body struct {
		ProfileName string `json:"profile_name" minLength:"1"`
	}
}

// UpdateJobProfileOutput is the POST /jobs/{seq}/profile response.
type UpdateJobProfileOutput struct {
	Body struct {
		Updated bool `json:"updated"`
	}
}

// UpdateJobProfile replaces the primary profile slot of a pending job.
func (h *Handler) UpdateJobProfile(ctx context.Context, input *UpdateJobProfileInput) (*UpdateJobProfileOutput, error) {
	ok, err := h.sched.UpdateProfile(input.Seq, input.Body.ProfileName)
	if err != nil {
		return nil, schedulerErrorToHuma(err)
	}
	out := &UpdateJobProfileOutput{}
	out.Body.Updated = ok
	return out, nil
}

// AbortDeviceInput is the POST /abort/{device} request.
type AbortDeviceInput struct {
	Device int `path:"device"`
}

// AbortDeviceOutput is the POST /abort/{device} response.
type AbortDeviceOutput struct {
	Body struct {
		Aborted bool `json:"aborted"`
	}
}

// AbortDevice sets device's abort flag, observed by its capture worker's
// read loop at the next iteration boundary.
func (h *Handler) AbortDevice(ctx context.Context, input *AbortDeviceInput) (*AbortDeviceOutput, error) {
	if err := h.sched.Abort(input.Device); err != nil {
		return nil, schedulerErrorToHuma(err)
	}
	out := &AbortDeviceOutput{}
	out.Body.Aborted = true
	return out, nil
}

// RefreshProfilesInput is the POST /profiles/refresh request; it takes no
// parameters.
type RefreshProfilesInput struct{}

// RefreshProfilesOutput is the POST /profiles/refresh response.
type RefreshProfilesOutput struct {
	Body struct {
		Refreshed bool `json:"refreshed"`
	}
}

// RefreshProfiles triggers a reload of the profile registry from disk.
func (h *Handler) RefreshProfiles(ctx context.Context, input *RefreshProfilesInput) (*RefreshProfilesOutput, error) {
	if err := h.sched.RefreshProfiles(); err != nil {
		return nil, huma.Error500InternalServerError("refreshing profiles", err)
	}
	out := &RefreshProfilesOutput{}
	out.Body.Refreshed = true
	return out, nil
}

// schedulerErrorToHuma maps spec §7's error kinds onto HTTP status codes.
func schedulerErrorToHuma(err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, models.ErrCollides),
		errors.Is(err, models.ErrQueueFull),
		errors.Is(err, models.ErrTooLong),
		errors.Is(err, models.ErrEndBeforeStart),
		errors.Is(err, models.ErrStartInPast),
		errors.Is(err, models.ErrUnknownProfile),
		errors.Is(err, models.ErrUnknownChannel),
		errors.Is(err, models.ErrUnknownRelativeDate):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error(), err)
	}
}
