package engine

import (
	"context"
	"sort"
	"time"

	"stageboard/internal/config"
	"stageboard/internal/domain"
	"stageboard/internal/engine/scope"
	"stageboard/internal/repo"
	"stageboard/internal/status"
)

// Bucket is one kanban column: an active stage and the visible items whose
// normalized stage matches it.
type Bucket struct {
	Stage domain.Stage  `json:"stage"`
	Items []domain.Item `json:"items"`
}

// Board is the bucketed view of one pipeline. Unmatched counts items whose
// stage matches no active column; they stay in storage but are not rendered.
type Board struct {
	Pipeline  domain.Pipeline `json:"pipeline"`
	Buckets   []Bucket        `json:"buckets"`
	Unmatched int             `json:"unmatched"`
}

// Board loads a pipeline and partitions the actor's visible items into its
// active stages. Recomputed on every call; the collection is UI-scale.
func (e Engine) Board(ctx context.Context, pipelineID int64, actor scope.Scope) (Board, error) {
	p, err := e.Repo.GetPipeline(ctx, pipelineID)
	if err != nil {
		return Board{}, err
	}
	items, err := e.Repo.ListItems(ctx, itemFilter(pipelineID, actor, e.Config))
	if err != nil {
		return Board{}, err
	}
	return BuildBoard(p, items, e.Config.UrgentWindow(), e.now()), nil
}

// BuildBoard is the pure bucketing step. Each item lands in at most one
// bucket: the first active stage whose normalized id equals the item's
// normalized stage. Postponed buckets get urgency ordering; everything else
// keeps insertion order.
func BuildBoard(p domain.Pipeline, items []domain.Item, urgentWindow time.Duration, now time.Time) Board {
	board := Board{Pipeline: p}
	index := map[string]int{}
	for _, s := range p.Stages {
		if !s.Active {
			continue
		}
		key := status.Normalize(s.ID)
		if _, exists := index[key]; exists {
			continue
		}
		index[key] = len(board.Buckets)
		board.Buckets = append(board.Buckets, Bucket{Stage: s})
	}
	for _, it := range items {
		i, ok := index[status.Normalize(it.Stage)]
		if !ok {
			board.Unmatched++
			continue
		}
		board.Buckets[i].Items = append(board.Buckets[i].Items, it)
	}
	for i := range board.Buckets {
		if status.CanonicalOf(board.Buckets[i].Stage.ID) == status.Postponed {
			sortPostponed(board.Buckets[i].Items, now, urgentWindow)
		}
	}
	return board
}

// sortPostponed orders a reporter column: items due back within the urgency
// window (or overdue) first, then ascending report date, items without a
// report date last. Stable so ties keep insertion order.
func sortPostponed(items []domain.Item, now time.Time, window time.Duration) {
	deadline := now.Add(window)
	rank := func(it domain.Item) (urgent bool, at time.Time, known bool) {
		t, ok := reportTime(it)
		if !ok {
			return false, time.Time{}, false
		}
		return !t.After(deadline), t, true
	}
	sort.SliceStable(items, func(i, j int) bool {
		ui, ti, ki := rank(items[i])
		uj, tj, kj := rank(items[j])
		if ki != kj {
			return ki
		}
		if !ki {
			return false
		}
		if ui != uj {
			return ui
		}
		return ti.Before(tj)
	})
}

func reportTime(it domain.Item) (time.Time, bool) {
	if it.DateReport == nil || *it.DateReport == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *it.DateReport)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func itemFilter(pipelineID int64, actor scope.Scope, cfg *config.Config) repo.ItemFilter {
	return repo.ItemFilter{PipelineID: pipelineID, Employee: actor.EmployeeFilter(cfg)}
}
