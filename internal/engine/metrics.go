package engine

import (
	"context"
	"time"

	"stageboard/internal/config"
	"stageboard/internal/domain"
	"stageboard/internal/engine/scope"
	"stageboard/internal/status"
)

// DailyMetrics summarizes the visible item set for one calendar day: how many
// items the actor sees in total, how many were confirmed or delivered today,
// and the commission those earn under the tiered formula.
type DailyMetrics struct {
	Day        string  `json:"day"`
	Visible    int     `json:"visible"`
	TodayCount int     `json:"today_count"`
	Commission float64 `json:"commission"`
}

// Metrics computes the daily scoreboard over the actor's visible items.
// pipelineID of zero spans all pipelines.
func (e Engine) Metrics(ctx context.Context, pipelineID int64, actor scope.Scope) (DailyMetrics, error) {
	items, err := e.Repo.ListItems(ctx, itemFilter(pipelineID, actor, e.Config))
	if err != nil {
		return DailyMetrics{}, err
	}
	products, err := e.Repo.ProductMap(ctx)
	if err != nil {
		return DailyMetrics{}, err
	}
	return ComputeMetrics(items, products, e.Config.Commission, e.now()), nil
}

// ComputeMetrics is the pure aggregation step. An item qualifies when its
// stage reports as confirmed or delivered and its creation falls on today's
// local calendar date; time of day is ignored.
func ComputeMetrics(items []domain.Item, products map[string]domain.Product, cfg config.CommissionConfig, now time.Time) DailyMetrics {
	day := now.Format("2006-01-02")
	m := DailyMetrics{Day: day, Visible: len(items)}
	for _, it := range items {
		st := status.CanonicalOf(it.Stage)
		if st != status.Confirmed && st != status.Delivered {
			continue
		}
		created, err := time.Parse(time.RFC3339, it.DateCreated)
		if err != nil {
			continue
		}
		if created.In(now.Location()).Format("2006-01-02") != day {
			continue
		}
		m.TodayCount++
		m.Commission += CommissionFor(it, products, cfg)
	}
	return m
}

// CommissionFor resolves an item's commission. An unresolvable product
// reference degrades to the configured default instead of failing; a resolved
// product with no usable reference price is treated the same way.
func CommissionFor(it domain.Item, products map[string]domain.Product, cfg config.CommissionConfig) float64 {
	p, ok := products[it.ProductID]
	if !ok || p.PrixVente <= 0 {
		return cfg.Default
	}
	switch {
	case it.Prix >= cfg.Thresholds.High*p.PrixVente:
		return cfg.Tiers.High
	case it.Prix >= cfg.Thresholds.Mid*p.PrixVente:
		return cfg.Tiers.Mid
	default:
		return cfg.Tiers.Low
	}
}
