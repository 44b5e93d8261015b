// Package orchestrator turns a content request into image and video
// artifacts. It runs the image stage, then the video stage, registers
// asynchronous video tasks with the poller, and records every stage in the
// repository before telling the caller about it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/imagegen"
	"github.com/atuona/mediabot/pkg/mediaproviders"
	"github.com/atuona/mediabot/pkg/poller"
	"github.com/atuona/mediabot/pkg/videogen"
	"github.com/atuona/mediabot/pkg/visualization"
)

var (
	ErrInvalidRequest  = errors.New("invalid visualization request")
	ErrNoPendingTask   = errors.New("no pending video task")
	ErrUnknownProvider = errors.New("pending task provider is not configured")
)

// Request is a finished prompt plus the content it belongs to.
type Request struct {
	ContentID    string
	Title        string
	Prompt       string
	AspectRatios []mediaproviders.AspectRatio
	Caption      string
	Tags         []string
}

// Result summarizes one orchestration run.
type Result struct {
	ContentID string
	RunID     string
	Status    visualization.Status
	Image     *imagegen.Result
	Video     videogen.Outcome
	Record    *visualization.Visualization
}

// CheckResult is the answer to a manual status query.
type CheckResult struct {
	ContentID string
	Status    visualization.Status
	Task      *visualization.PendingTask
	State     mediaproviders.TaskState
	Record    *visualization.Visualization
}

// Deps are the collaborators an Orchestrator composes.
type Deps struct {
	Repo   visualization.Repository
	Images *imagegen.Coordinator
	Videos *videogen.Coordinator
	Poller *poller.Poller
	Logger zerolog.Logger
}

// Options tune request building.
type Options struct {
	OutputFormat  string
	Loop          bool
	QualityHint   int
	DefaultRatios []mediaproviders.AspectRatio
	// Sink receives outcomes of tasks resumed after a restart or found by
	// the pending sweep, which have no caller attached.
	Sink Sink
	Now  func() time.Time
}

// Orchestrator is safe for concurrent use. Runs for different content ids
// share nothing but the repository; two runs for the same id overwrite each
// other, last write wins.
type Orchestrator struct {
	repo   visualization.Repository
	images *imagegen.Coordinator
	videos *videogen.Coordinator
	poller *poller.Poller
	async  map[string]mediaproviders.AsyncAdapter
	opts   Options
	logger zerolog.Logger

	// applyMu serializes poll results so a manual check and a scheduled poll
	// cannot both apply the same terminal state.
	applyMu sync.Mutex
}

// New wires an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = Discard
	}
	if len(opts.DefaultRatios) == 0 {
		opts.DefaultRatios = []mediaproviders.AspectRatio{mediaproviders.AspectHorizontal}
	}
	o := &Orchestrator{
		repo:   deps.Repo,
		images: deps.Images,
		videos: deps.Videos,
		poller: deps.Poller,
		async:  map[string]mediaproviders.AsyncAdapter{},
		opts:   opts,
		logger: deps.Logger,
	}
	if deps.Videos != nil {
		for _, p := range deps.Videos.Providers {
			if a, ok := p.(mediaproviders.AsyncAdapter); ok {
				o.async[a.Name()] = a
			}
		}
	}
	return o
}

// SetSink replaces the sink used for detached task outcomes.
func (o *Orchestrator) SetSink(s Sink) {
	if s == nil {
		s = Discard
	}
	o.opts.Sink = s
}

// Orchestrate runs the image stage and then the video stage for req. An
// asynchronous video ends the call at the submitted state; the outcome
// arrives on sink later. The returned error is non-nil only when the image
// stage failed or the request was invalid.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = Discard
	}
	ratios, err := o.normalize(&req)
	if err != nil {
		return nil, err
	}

	rec := visualization.New(req.ContentID, req.Title, req.Prompt, o.opts.Now())
	rec.RunID = uuid.NewString()
	rec.Caption = req.Caption
	if req.Tags != nil {
		rec.Tags = append([]string{}, req.Tags...)
	}
	log := o.logger.With().Str("content_id", rec.ContentID).Str("run_id", rec.RunID).Logger()

	result := &Result{ContentID: rec.ContentID, RunID: rec.RunID}
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}
	o.notify(ctx, sink, Event{
		Kind:      EventProgress,
		ContentID: rec.ContentID,
		Text:      fmt.Sprintf("Generating images for %s (%s)", label(rec), joinRatios(ratios)),
	})

	primary := ratios[0]
	for i, ratio := range ratios {
		imgReq := mediaproviders.Request{
			Prompt:       req.Prompt,
			AspectRatio:  ratio,
			OutputFormat: o.opts.OutputFormat,
			QualityHint:  o.opts.QualityHint,
		}
		img, err := o.images.Generate(ctx, imgReq, o.imageNarrator(ctx, sink, rec.ContentID))
		if err != nil {
			if i == 0 {
				log.Error().Err(err).Str("aspect", string(ratio)).Msg("orchestrator: primary image failed")
				return o.failRun(ctx, sink, rec, result, fmt.Sprintf("image generation failed: %v", err), err)
			}
			log.Warn().Err(err).Str("aspect", string(ratio)).Msg("orchestrator: secondary image failed")
			o.notify(ctx, sink, Event{
				Kind:        EventFailure,
				ContentID:   rec.ContentID,
				AspectRatio: ratio,
				Text:        fmt.Sprintf("%s image failed, continuing without it: %v", ratio, err),
			})
			continue
		}

		rec.SetImage(ratio, img.URL)
		if i == 0 {
			result.Image = img
			rec.ImageProvider = img.Provider
			rec.ImageModel = img.Model
			if err := rec.Advance(visualization.StatusImageDone); err != nil {
				return nil, err
			}
		}
		if err := o.save(ctx, rec); err != nil {
			return nil, err
		}
		o.notify(ctx, sink, Event{
			Kind:        EventArtifact,
			ContentID:   rec.ContentID,
			Artifact:    ArtifactImage,
			URL:         img.URL,
			AspectRatio: ratio,
			Provider:    img.Provider,
			Text:        fmt.Sprintf("%s image ready via %s (%s)", ratio, img.Provider, img.Model),
		})
	}

	result.Video = o.runVideo(ctx, sink, rec, req.Prompt, primary)
	result.Status = rec.Status
	result.Record = rec.Clone()
	return result, nil
}

func (o *Orchestrator) runVideo(ctx context.Context, sink Sink, rec *visualization.Visualization, prompt string, ratio mediaproviders.AspectRatio) videogen.Outcome {
	log := o.logger.With().Str("content_id", rec.ContentID).Logger()
	if o.videos == nil {
		o.notify(ctx, sink, Event{Kind: EventProgress, ContentID: rec.ContentID, Text: "No video provider configured; the image is final"})
		return videogen.Outcome{Kind: videogen.OutcomeNotAttempted, Provider: videogen.ProviderNone, Err: videogen.ErrNoProvider}
	}

	vreq := mediaproviders.Request{
		Prompt:         prompt,
		AspectRatio:    ratio,
		SourceImageURL: rec.ImageURLs[ratio],
		Loop:           o.opts.Loop,
	}
	out := o.videos.Generate(ctx, vreq,
		func(provider, model string) {
			o.notify(ctx, sink, Event{
				Kind:      EventProgress,
				ContentID: rec.ContentID,
				Provider:  provider,
				Text:      fmt.Sprintf("Animating with %s (%s)", provider, model),
			})
		},
		func(fb videogen.Fallback) {
			text := fmt.Sprintf("%s failed: %v; trying %s", fb.Provider, fb.Err, fb.Next)
			if fb.Next == videogen.ProviderNone {
				text = fmt.Sprintf("%s failed: %v; no providers left", fb.Provider, fb.Err)
			}
			o.notify(ctx, sink, Event{Kind: EventFallback, ContentID: rec.ContentID, Provider: fb.Provider, Text: text})
		},
	)

	switch out.Kind {
	case videogen.OutcomeNotAttempted:
		o.notify(ctx, sink, Event{Kind: EventProgress, ContentID: rec.ContentID, Text: "No video provider configured; the image is final"})

	case videogen.OutcomeFailed:
		log.Warn().Err(out.Err).Msg("orchestrator: video stage failed")
		if err := o.save(ctx, rec); err != nil {
			log.Error().Err(err).Msg("orchestrator: record video failure")
		}
		o.notify(ctx, sink, Event{
			Kind:      EventFailure,
			ContentID: rec.ContentID,
			Text:      fmt.Sprintf("Video generation failed (%v); the image is still available", out.Err),
		})

	case videogen.OutcomeCompleted:
		rec.VideoProvider = out.Provider
		rec.VideoModel = out.Model
		o.storeVideo(ctx, sink, rec, ratio, out.URL, out.Provider)

	case videogen.OutcomeSubmitted:
		rec.VideoProvider = out.Provider
		rec.VideoModel = out.Model
		rec.PendingTask = &visualization.PendingTask{
			Provider:    out.Provider,
			Model:       out.Model,
			Handle:      out.TaskHandle,
			AspectRatio: ratio,
			SubmittedAt: o.opts.Now(),
		}
		if err := o.save(ctx, rec); err != nil {
			log.Error().Err(err).Msg("orchestrator: record submitted task")
		}
		o.notify(ctx, sink, Event{
			Kind:      EventPending,
			ContentID: rec.ContentID,
			Provider:  out.Provider,
			Handle:    out.TaskHandle,
			Text:      fmt.Sprintf("Video submitted to %s (task %s); it will be delivered when ready", out.Provider, out.TaskHandle),
		})
		o.watch(ctx, rec.ContentID, out.TaskHandle, out.Adapter, sink)
	}
	return out
}

// storeVideo records the artifact as video_done, delivers it, and marks the
// record complete once delivery succeeded.
func (o *Orchestrator) storeVideo(ctx context.Context, sink Sink, rec *visualization.Visualization, ratio mediaproviders.AspectRatio, url, provider string) {
	log := o.logger.With().Str("content_id", rec.ContentID).Logger()
	rec.SetVideo(ratio, url)
	rec.PendingTask = nil
	if err := rec.Advance(visualization.StatusVideoDone); err != nil {
		log.Error().Err(err).Msg("orchestrator: store video")
		return
	}
	if err := o.save(ctx, rec); err != nil {
		log.Error().Err(err).Msg("orchestrator: store video")
		return
	}
	err := sink.Notify(ctx, Event{
		Kind:        EventArtifact,
		ContentID:   rec.ContentID,
		Artifact:    ArtifactVideo,
		URL:         url,
		AspectRatio: ratio,
		Provider:    provider,
		Text:        fmt.Sprintf("Video ready via %s", provider),
	})
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: video delivery failed, left at video_done")
		return
	}
	if err := rec.Advance(visualization.StatusComplete); err != nil {
		log.Error().Err(err).Msg("orchestrator: complete")
		return
	}
	if err := o.save(ctx, rec); err != nil {
		log.Error().Err(err).Msg("orchestrator: complete")
	}
}

func (o *Orchestrator) watch(ctx context.Context, contentID, handle string, adapter mediaproviders.AsyncAdapter, sink Sink) {
	if o.poller == nil || adapter == nil {
		return
	}
	// Polling outlives the request that started it.
	pollCtx := context.WithoutCancel(ctx)
	err := o.poller.Register(pollCtx, poller.Task{Key: contentID, Handle: handle, Adapter: adapter}, func(out poller.Outcome) {
		o.applyOutcome(pollCtx, sink, out)
	})
	if err != nil && !errors.Is(err, poller.ErrAlreadyActive) {
		o.logger.Error().Err(err).Str("content_id", contentID).Str("task", handle).Msg("orchestrator: register poll")
	}
}

// applyOutcome records a poll result. Results for a handle the record no
// longer carries belong to an older run and are dropped.
func (o *Orchestrator) applyOutcome(ctx context.Context, sink Sink, out poller.Outcome) *visualization.Visualization {
	o.applyMu.Lock()
	defer o.applyMu.Unlock()

	log := o.logger.With().Str("content_id", out.Key).Str("task", out.Handle).Logger()
	rec, err := o.repo.Get(ctx, out.Key)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: load record for poll outcome")
		return nil
	}
	if rec.PendingTask == nil || rec.PendingTask.Handle != out.Handle {
		log.Info().Msg("orchestrator: dropping stale poll outcome")
		return rec
	}

	switch {
	case out.TimedOut():
		if err := o.save(ctx, rec); err != nil {
			log.Error().Err(err).Msg("orchestrator: record poll timeout")
		}
		o.notify(ctx, sink, Event{
			Kind:      EventPending,
			ContentID: rec.ContentID,
			Provider:  out.Provider,
			Handle:    out.Handle,
			Text: fmt.Sprintf("%s is still working after %d checks. Task %s is kept; check it later with /videostatus %s",
				out.Provider, out.Attempts, out.Handle, rec.ContentID),
		})

	case out.Err != nil:
		log.Info().Err(out.Err).Msg("orchestrator: polling abandoned")

	case out.Status.State == mediaproviders.TaskCompleted:
		o.storeVideo(ctx, sink, rec, rec.PendingTask.AspectRatio, out.Status.URL, out.Provider)

	case out.Status.State == mediaproviders.TaskFailed:
		reason := out.Status.FailureReason
		if reason == "" {
			reason = "provider reported failure"
		}
		if err := rec.Fail(fmt.Sprintf("video generation failed: %s", reason)); err != nil {
			log.Error().Err(err).Msg("orchestrator: fail record")
			return rec
		}
		if err := o.save(ctx, rec); err != nil {
			log.Error().Err(err).Msg("orchestrator: record video failure")
		}
		o.notify(ctx, sink, Event{
			Kind:      EventFailure,
			ContentID: rec.ContentID,
			Provider:  out.Provider,
			Text:      fmt.Sprintf("%s video failed: %s", out.Provider, reason),
		})
	}
	return rec
}

// CheckTask polls the stored task handle once, out of band. A terminal
// result is applied exactly as a scheduled poll would.
func (o *Orchestrator) CheckTask(ctx context.Context, contentID string, sink Sink) (*CheckResult, error) {
	if sink == nil {
		sink = o.opts.Sink
	}
	rec, err := o.repo.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	res := &CheckResult{ContentID: contentID, Status: rec.Status, Record: rec}
	if rec.PendingTask == nil {
		return res, ErrNoPendingTask
	}
	task := *rec.PendingTask
	res.Task = &task

	adapter, ok := o.async[task.Provider]
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrUnknownProvider, task.Provider)
	}
	status, err := adapter.Poll(ctx, task.Handle)
	if err != nil {
		return res, fmt.Errorf("check %s task %s: %w", task.Provider, task.Handle, err)
	}
	if status.State == mediaproviders.TaskCompleted && status.URL == "" {
		status = mediaproviders.TaskStatus{State: mediaproviders.TaskFailed, FailureReason: "task completed without an artifact URL"}
	}
	res.State = status.State
	if !status.State.Terminal() {
		return res, nil
	}

	if o.poller != nil {
		o.poller.Cancel(task.Handle)
	}
	updated := o.applyOutcome(ctx, sink, poller.Outcome{
		Key:      contentID,
		Handle:   task.Handle,
		Provider: task.Provider,
		Model:    task.Model,
		Status:   status,
	})
	if updated != nil {
		res.Status = updated.Status
		res.Record = updated
	}
	return res, nil
}

// Resume re-registers pollers for every record left with a pending task, so
// in-flight videos survive a restart. It returns the number registered.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	if o.poller == nil {
		return 0, nil
	}
	items, err := o.repo.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("resume pending tasks: %w", err)
	}
	n := 0
	for _, rec := range items {
		if rec.PendingTask == nil || rec.Status == visualization.StatusFailed || rec.Status == visualization.StatusComplete {
			continue
		}
		adapter, ok := o.async[rec.PendingTask.Provider]
		if !ok {
			o.logger.Warn().
				Str("content_id", rec.ContentID).
				Str("provider", rec.PendingTask.Provider).
				Msg("orchestrator: cannot resume task, provider not configured")
			continue
		}
		if o.poller.Active(rec.PendingTask.Handle) {
			continue
		}
		o.watch(ctx, rec.ContentID, rec.PendingTask.Handle, adapter, o.opts.Sink)
		n++
	}
	if n > 0 {
		o.logger.Info().Int("tasks", n).Msg("orchestrator: resumed pending video tasks")
	}
	return n, nil
}

// SweepPending checks every pending task that has no active poller, which
// covers tasks whose polling budget ran out.
func (o *Orchestrator) SweepPending(ctx context.Context) int {
	items, err := o.repo.List(ctx, 0)
	if err != nil {
		o.logger.Error().Err(err).Msg("orchestrator: sweep pending tasks")
		return 0
	}
	checked := 0
	for _, rec := range items {
		if rec.PendingTask == nil || (o.poller != nil && o.poller.Active(rec.PendingTask.Handle)) {
			continue
		}
		checked++
		res, err := o.CheckTask(ctx, rec.ContentID, o.opts.Sink)
		if err != nil {
			o.logger.Warn().Err(err).Str("content_id", rec.ContentID).Msg("orchestrator: sweep check failed")
			continue
		}
		o.logger.Debug().Str("content_id", rec.ContentID).Str("state", string(res.State)).Msg("orchestrator: swept task")
	}
	return checked
}

// Get returns one record.
func (o *Orchestrator) Get(ctx context.Context, contentID string) (*visualization.Visualization, error) {
	return o.repo.Get(ctx, contentID)
}

// Gallery returns the newest records.
func (o *Orchestrator) Gallery(ctx context.Context, limit int) ([]*visualization.Visualization, error) {
	return o.repo.List(ctx, limit)
}

func (o *Orchestrator) failRun(ctx context.Context, sink Sink, rec *visualization.Visualization, result *Result, reason string, cause error) (*Result, error) {
	if err := rec.Fail(reason); err != nil {
		return nil, err
	}
	if err := o.save(ctx, rec); err != nil {
		return nil, errors.Join(cause, err)
	}
	o.notify(ctx, sink, Event{Kind: EventFailure, ContentID: rec.ContentID, Text: reason})
	result.Status = rec.Status
	result.Record = rec.Clone()
	result.Video = videogen.Outcome{Kind: videogen.OutcomeNotAttempted, Provider: videogen.ProviderNone}
	return result, cause
}

func (o *Orchestrator) imageNarrator(ctx context.Context, sink Sink, contentID string) func(imagegen.Event) {
	return func(ev imagegen.Event) {
		if ev.Fallback {
			o.notify(ctx, sink, Event{
				Kind:      EventFallback,
				ContentID: contentID,
				Provider:  ev.Provider,
				Text:      fmt.Sprintf("%s (%s) failed: %v; trying the next image provider", ev.Provider, ev.Model, ev.Err),
			})
			return
		}
		o.notify(ctx, sink, Event{
			Kind:      EventProgress,
			ContentID: contentID,
			Provider:  ev.Provider,
			Text:      fmt.Sprintf("%s is rate limited, retrying in %s", ev.Provider, ev.Delay),
		})
	}
}

func (o *Orchestrator) normalize(req *Request) ([]mediaproviders.AspectRatio, error) {
	req.ContentID = strings.TrimSpace(req.ContentID)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.ContentID == "" {
		return nil, fmt.Errorf("%w: content id is required", ErrInvalidRequest)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	ratios := req.AspectRatios
	if len(ratios) == 0 {
		ratios = o.opts.DefaultRatios
	}
	seen := map[mediaproviders.AspectRatio]bool{}
	out := make([]mediaproviders.AspectRatio, 0, len(ratios))
	for _, r := range ratios {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: unknown aspect ratio %q", ErrInvalidRequest, r)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// save persists rec even when ctx is already cancelled, so a run interrupted
// mid-stage still lands in a defined status and a submitted task keeps its
// handle.
func (o *Orchestrator) save(ctx context.Context, rec *visualization.Visualization) error {
	rec.UpdatedAt = o.opts.Now()
	if err := o.repo.Upsert(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("save visualization %s: %w", rec.ContentID, err)
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, sink Sink, ev Event) {
	if err := sink.Notify(ctx, ev); err != nil {
		o.logger.Warn().Err(err).Str("content_id", ev.ContentID).Str("event", string(ev.Kind)).Msg("orchestrator: notify failed")
	}
}

func label(rec *visualization.Visualization) string {
	if rec.Title != "" {
		return rec.Title
	}
	return rec.ContentID
}

func joinRatios(ratios []mediaproviders.AspectRatio) string {
	parts := make([]string, len(ratios))
	for i, r := range ratios {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
