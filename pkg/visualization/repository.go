package visualization

import (
	"context"
	"errors"
	"sort"
)

var ErrNotFound = errors.New("visualization not found")

// Repository is the only access path to persisted job state. Upsert replaces
// the whole record for a content id; there are no partial updates.
type Repository interface {
	Get(ctx context.Context, contentID string) (*Visualization, error)
	Upsert(ctx context.Context, v *Visualization) error
	List(ctx context.Context, limit int) ([]*Visualization, error)
}

// sortRecent orders newest first by creation time, content id breaking ties.
func sortRecent(items []*Visualization) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ContentID < items[j].ContentID
	})
}

func applyLimit(items []*Visualization, limit int) []*Visualization {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
