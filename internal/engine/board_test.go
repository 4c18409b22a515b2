package engine_test

import (
	"testing"
	"time"

	"stageboard/internal/domain"
	"stageboard/internal/engine"
)

func stage(id, status string) domain.Stage {
	return domain.Stage{ID: id, Status: status, Active: true}
}

func item(id, stageID string) domain.Item {
	return domain.Item{ID: id, Stage: stageID}
}

func reportAt(t time.Time) *string {
	s := t.Format(time.RFC3339)
	return &s
}

func TestBuildBoardPartition(t *testing.T) {
	p := domain.Pipeline{
		ID:   1,
		Name: "Ammex",
		Stages: []domain.Stage{
			stage("En attente", "pending"),
			stage("Confirmé", "confirmed"),
			{ID: "Archive", Status: "cancelled", Active: false},
		},
	}
	items := []domain.Item{
		item("a", "En attente"),
		item("b", "confirme"),
		item("c", "Confirmé"),
		item("d", "Inconnu"),
		item("e", "Archive"),
	}
	board := engine.BuildBoard(p, items, 24*time.Hour, testNow)

	if len(board.Buckets) != 2 {
		t.Fatalf("got %d buckets, want 2 (inactive stage excluded)", len(board.Buckets))
	}
	seen := map[string]bool{}
	total := 0
	for _, b := range board.Buckets {
		for _, it := range b.Items {
			if seen[it.ID] {
				t.Fatalf("item %s bucketed twice", it.ID)
			}
			seen[it.ID] = true
			total++
		}
	}
	if total != 3 {
		t.Fatalf("bucketed %d items, want 3", total)
	}
	if board.Unmatched != 2 {
		t.Fatalf("unmatched = %d, want 2 (unknown stage + inactive stage)", board.Unmatched)
	}
	if got := len(board.Buckets[1].Items); got != 2 {
		t.Fatalf("Confirmé bucket has %d items, want accent variant included", got)
	}
}

func TestBuildBoardSuffixVariants(t *testing.T) {
	p := domain.Pipeline{
		ID:     2,
		Name:   "Agadir",
		Stages: []domain.Stage{stage("Confirmé-AG", "confirmed")},
	}
	items := []domain.Item{item("a", "confirme-ag"), item("b", "Confirmé-AG")}
	board := engine.BuildBoard(p, items, 24*time.Hour, testNow)
	if len(board.Buckets[0].Items) != 2 || board.Unmatched != 0 {
		t.Fatalf("suffixed stage failed to collect variants: %+v", board)
	}
}

func TestPostponedOrdering(t *testing.T) {
	p := domain.Pipeline{
		ID:     1,
		Stages: []domain.Stage{stage("Reporter", "postponed")},
	}
	overdue := domain.Item{ID: "overdue", Stage: "Reporter", DateReport: reportAt(testNow.Add(-2 * time.Hour))}
	soon := domain.Item{ID: "soon", Stage: "Reporter", DateReport: reportAt(testNow.Add(1 * time.Hour))}
	later := domain.Item{ID: "later", Stage: "Reporter", DateReport: reportAt(testNow.Add(2 * time.Hour))}
	outside := domain.Item{ID: "outside", Stage: "Reporter", DateReport: reportAt(testNow.Add(30 * time.Hour))}
	nodate := domain.Item{ID: "nodate", Stage: "Reporter"}

	board := engine.BuildBoard(p, []domain.Item{nodate, outside, later, soon, overdue}, 24*time.Hour, testNow)

	got := board.Buckets[0].Items
	want := []string{"overdue", "soon", "later", "outside", "nodate"}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestPostponedOrderingStable(t *testing.T) {
	p := domain.Pipeline{
		ID:     1,
		Stages: []domain.Stage{stage("Reporter", "postponed")},
	}
	at := reportAt(testNow.Add(time.Hour))
	a := domain.Item{ID: "a", Stage: "Reporter", DateReport: at}
	b := domain.Item{ID: "b", Stage: "Reporter", DateReport: at}

	board := engine.BuildBoard(p, []domain.Item{a, b}, 24*time.Hour, testNow)
	got := board.Buckets[0].Items
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("equal report dates reordered: %s, %s", got[0].ID, got[1].ID)
	}
}
