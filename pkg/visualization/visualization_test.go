package visualization

import (
	"testing"
	"time"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusImageDone, true},
		{StatusImageDone, StatusVideoDone, true},
		{StatusVideoDone, StatusComplete, true},
		{StatusPending, StatusComplete, true},
		{StatusImageDone, StatusImageDone, true},
		{StatusImageDone, StatusPending, false},
		{StatusComplete, StatusVideoDone, false},
		{StatusPending, StatusFailed, true},
		{StatusVideoDone, StatusFailed, true},
		{StatusComplete, StatusFailed, false},
		{StatusFailed, StatusImageDone, false},
		{StatusFailed, StatusFailed, false},
		{Status("bogus"), StatusImageDone, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestAdvanceAndFail(t *testing.T) {
	v := New("c1", "Title", "prompt", time.Now())
	if err := v.Advance(StatusImageDone); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if err := v.Advance(StatusPending); err == nil {
		t.Fatal("regression should be refused")
	}
	if v.Status != StatusImageDone {
		t.Fatalf("status = %s after refused regression", v.Status)
	}

	v.PendingTask = &PendingTask{Provider: "luma", Handle: "h1"}
	if err := v.Fail("provider said no"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if v.Status != StatusFailed || v.FailureReason != "provider said no" || v.PendingTask != nil {
		t.Errorf("after Fail: %+v", v)
	}

	done := New("c2", "", "", time.Now())
	done.Status = StatusComplete
	if err := done.Fail("late"); err == nil {
		t.Error("complete record should not become failed")
	}
}

func TestCloneIsolation(t *testing.T) {
	v := New("c1", "", "", time.Now())
	v.SetImage(mediaproviders.AspectHorizontal, "https://img/1")
	v.Tags = []string{"a"}
	v.PendingTask = &PendingTask{Handle: "h1"}

	c := v.Clone()
	c.SetImage(mediaproviders.AspectHorizontal, "https://img/2")
	c.Tags[0] = "b"
	c.PendingTask.Handle = "h2"

	if v.ImageURLs[mediaproviders.AspectHorizontal] != "https://img/1" || v.Tags[0] != "a" || v.PendingTask.Handle != "h1" {
		t.Errorf("original mutated through clone: %+v", v)
	}
}

func TestGlyphs(t *testing.T) {
	if StatusComplete.Glyph() == StatusFailed.Glyph() || StatusPending.Glyph() == "" {
		t.Error("glyphs should be distinct and non-empty")
	}
}
