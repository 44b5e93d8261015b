package visualization

import (
	"fmt"
	"time"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

// Status is the lifecycle state of one Visualization.
type Status string

const (
	StatusPending   Status = "pending"
	StatusImageDone Status = "image_done"
	StatusVideoDone Status = "video_done"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusImageDone: 1,
	StatusVideoDone: 2,
	StatusComplete:  3,
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// monotonic. Failed is reachable from every non-terminal state and is itself
// terminal.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s != StatusComplete
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to >= from
}

// Glyph is the one-character marker used in gallery listings.
func (s Status) Glyph() string {
	switch s {
	case StatusComplete:
		return "✅"
	case StatusVideoDone:
		return "🎬"
	case StatusImageDone:
		return "🎨"
	case StatusFailed:
		return "❌"
	default:
		return "⏳"
	}
}

// PendingTask is the handle of an outstanding asynchronous video task.
type PendingTask struct {
	Provider    string                     `json:"provider"`
	Model       string                     `json:"model"`
	Handle      string                     `json:"handle"`
	AspectRatio mediaproviders.AspectRatio `json:"aspectRatio"`
	SubmittedAt time.Time                  `json:"submittedAt"`
}

// Visualization is the persisted record for one content item.
type Visualization struct {
	ContentID     string                                `json:"contentId"`
	RunID         string                                `json:"runId,omitempty"`
	Title         string                                `json:"title"`
	PromptText    string                                `json:"promptText"`
	ImageURLs     map[mediaproviders.AspectRatio]string `json:"imageUrls,omitempty"`
	VideoURLs     map[mediaproviders.AspectRatio]string `json:"videoUrls,omitempty"`
	Caption       string                                `json:"caption"`
	Tags          []string                              `json:"tags"`
	CreatedAt     time.Time                             `json:"createdAt"`
	UpdatedAt     time.Time                             `json:"updatedAt"`
	Status        Status                                `json:"status"`
	ImageProvider string                                `json:"imageProvider,omitempty"`
	ImageModel    string                                `json:"imageModel,omitempty"`
	VideoProvider string                                `json:"videoProvider,omitempty"`
	VideoModel    string                                `json:"videoModel,omitempty"`
	FailureReason string                                `json:"failureReason,omitempty"`
	PendingTask   *PendingTask                          `json:"pendingTask,omitempty"`
}

// New returns a pending Visualization.
func New(contentID, title, prompt string, now time.Time) *Visualization {
	return &Visualization{
		ContentID:  contentID,
		Title:      title,
		PromptText: prompt,
		ImageURLs:  map[mediaproviders.AspectRatio]string{},
		VideoURLs:  map[mediaproviders.AspectRatio]string{},
		Tags:       []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     StatusPending,
	}
}

// Advance moves the record to next, refusing regressions.
func (v *Visualization) Advance(next Status) error {
	if v.Status == next {
		return nil
	}
	if !v.Status.CanAdvanceTo(next) {
		return fmt.Errorf("visualization %s: cannot move from %s to %s", v.ContentID, v.Status, next)
	}
	v.Status = next
	return nil
}

// Fail marks the record failed with a reason. Completed records are left alone.
func (v *Visualization) Fail(reason string) error {
	if err := v.Advance(StatusFailed); err != nil {
		return err
	}
	v.FailureReason = reason
	v.PendingTask = nil
	return nil
}

// SetImage stores an image URL under its aspect ratio tag.
func (v *Visualization) SetImage(ratio mediaproviders.AspectRatio, url string) {
	if v.ImageURLs == nil {
		v.ImageURLs = map[mediaproviders.AspectRatio]string{}
	}
	v.ImageURLs[ratio] = url
}

// SetVideo stores a video URL under its aspect ratio tag.
func (v *Visualization) SetVideo(ratio mediaproviders.AspectRatio, url string) {
	if v.VideoURLs == nil {
		v.VideoURLs = map[mediaproviders.AspectRatio]string{}
	}
	v.VideoURLs[ratio] = url
}

// Clone returns a deep copy so repository callers never share maps.
func (v *Visualization) Clone() *Visualization {
	if v == nil {
		return nil
	}
	out := *v
	out.ImageURLs = make(map[mediaproviders.AspectRatio]string, len(v.ImageURLs))
	for k, u := range v.ImageURLs {
		out.ImageURLs[k] = u
	}
	out.VideoURLs = make(map[mediaproviders.AspectRatio]string, len(v.VideoURLs))
	for k, u := range v.VideoURLs {
		out.VideoURLs[k] = u
	}
	out.Tags = append([]string{}, v.Tags...)
	if v.PendingTask != nil {
		task := *v.PendingTask
		out.PendingTask = &task
	}
	return &out
}
