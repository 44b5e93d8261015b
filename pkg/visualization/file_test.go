package visualization

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

func TestFileRepositoryRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "visualizations.json")

	repo, err := OpenFileRepository(path)
	if err != nil {
		t.Fatalf("OpenFileRepository() error = %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	v := New("post-1", "First", "a kite", now)
	v.Status = StatusImageDone
	v.SetImage(mediaproviders.AspectVertical, "https://img/v")
	v.PendingTask = &PendingTask{Provider: "luma", Model: "ray-2", Handle: "gen-1", AspectRatio: mediaproviders.AspectVertical, SubmittedAt: now}
	if err := repo.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	reopened, err := OpenFileRepository(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := reopened.Get(ctx, "post-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusImageDone || got.ImageURLs[mediaproviders.AspectVertical] != "https://img/v" {
		t.Errorf("reloaded = %+v", got)
	}
	if got.PendingTask == nil || got.PendingTask.Handle != "gen-1" || !got.PendingTask.SubmittedAt.Equal(now) {
		t.Errorf("pending task = %+v", got.PendingTask)
	}
}

func TestFileRepositoryUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenFileRepository(filepath.Join(t.TempDir(), "v.json"))
	if err != nil {
		t.Fatal(err)
	}
	first := New("post-1", "Old", "old prompt", time.Now())
	first.Tags = []string{"old"}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := New("post-1", "New", "new prompt", time.Now())
	if err := repo.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.Get(ctx, "post-1")
	if got.Title != "New" || len(got.Tags) != 0 {
		t.Errorf("record not replaced: %+v", got)
	}

	if err := repo.Upsert(ctx, &Visualization{}); err == nil {
		t.Error("empty content id should be rejected")
	}
}

func TestFileRepositoryCallerCannotMutateStore(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenFileRepository(filepath.Join(t.TempDir(), "v.json"))
	if err != nil {
		t.Fatal(err)
	}
	v := New("post-1", "T", "p", time.Now())
	if err := repo.Upsert(ctx, v); err != nil {
		t.Fatal(err)
	}
	v.Title = "changed after upsert"
	got, _ := repo.Get(ctx, "post-1")
	got.Status = StatusFailed

	again, _ := repo.Get(ctx, "post-1")
	if again.Title != "T" || again.Status != StatusPending {
		t.Errorf("store mutated by caller: %+v", again)
	}
}

func TestFileRepositoryListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenFileRepository(filepath.Join(t.TempDir(), "v.json"))
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.Upsert(ctx, New(id, "", "", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ContentID != "c" || all[2].ContentID != "a" {
		t.Errorf("order = %v", ids(all))
	}
	two, _ := repo.List(ctx, 2)
	if len(two) != 2 || two[0].ContentID != "c" || two[1].ContentID != "b" {
		t.Errorf("limited = %v", ids(two))
	}
}

func TestOpenFileRepositoryRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileRepository(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func ids(items []*Visualization) []string {
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = v.ContentID
	}
	return out
}
