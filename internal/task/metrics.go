package task

import (
	"context"
	"database/sql"
	"fmt"

	"tracker-backend/internal/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScalarEvent is one rolled-up metric/variant sample from an ingestion batch.
// Min/Max are optional: absent bounds leave the stored bounds untouched.
type ScalarEvent struct {
	Metric  string
	Variant string
	Value   float64

	MinValue     *float64
	MinValueIter int64
	MaxValue     *float64
	MaxValueIter int64
}

// MetricsUpdater maintains per-owner last-metric rollups during event
// ingestion. All bound updates are single conditional writes so that
// concurrent batches can only tighten a bound, and a bound value never
// desynchronizes from its iteration number.
type MetricsUpdater struct {
	db             *gorm.DB
	maxLastMetrics int
}

func NewMetricsUpdater(db *gorm.DB, maxLastMetrics int) *MetricsUpdater {
	return &MetricsUpdater{db: db, maxLastMetrics: maxLastMetrics}
}

// UpdateLastMetrics applies one batch of scalar events to the owner's rollup,
// keyed metric hash -> variant hash. Never-seen metric keys beyond the
// unique-metrics cap are silently dropped; already-tracked metrics keep
// updating.
func (m *MetricsUpdater) UpdateLastMetrics(ctx context.Context, ownerId string, lastScalarEvents map[string]map[string]ScalarEvent, modelEvents bool) error {
	tracked := make(map[string]struct{})
	if m.maxLastMetrics > 0 {
		var existing []string
		if err := m.db.WithContext(ctx).Model(&database.UniqueMetric{}).
			Where("owner_id = ?", ownerId).
			Pluck("metric", &existing).Error; err != nil {
			return fmt.Errorf("error loading unique metrics for %s: %w", ownerId, err)
		}
		for _, metric := range existing {
			tracked[metric] = struct{}{}
		}
	}

	var newMetrics []string
	for metricKey, variants := range lastScalarEvents {
		for variantKey, ev := range variants {
			metric := ev.Metric + "/" + ev.Variant
			if m.maxLastMetrics > 0 {
				if _, ok := tracked[metric]; !ok && len(tracked) >= m.maxLastMetrics {
					continue
				}
				tracked[metric] = struct{}{}
			}
			newMetrics = append(newMetrics, metric)

			if err := m.upsertVariant(ctx, ownerId, metricKey, variantKey, ev); err != nil {
				return err
			}
		}
	}

	if len(newMetrics) > 0 {
		rows := make([]database.UniqueMetric, len(newMetrics))
		for i, metric := range newMetrics {
			rows[i] = database.UniqueMetric{OwnerId: ownerId, Metric: metric}
		}
		// Additive, duplicate-safe: existing entries are left alone.
		if err := m.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rows).Error; err != nil {
			return fmt.Errorf("error extending unique metrics for %s: %w", ownerId, err)
		}
	}

	return nil
}

// upsertVariant writes one variant row. Plain fields (metric, variant, value)
// are last-write-wins; min/max and their iteration fields share a CASE
// condition evaluated against the stored row, so both move together or not at
// all, and only in the tightening direction.
func (m *MetricsUpdater) upsertVariant(ctx context.Context, ownerId, metricKey, variantKey string, ev ScalarEvent) error {
	row := database.LastMetric{
		OwnerId:    ownerId,
		MetricKey:  metricKey,
		VariantKey: variantKey,
		Metric:     ev.Metric,
		Variant:    ev.Variant,
		Value:      ev.Value,
	}
	if ev.MinValue != nil {
		row.MinValue = sql.NullFloat64{Float64: *ev.MinValue, Valid: true}
		row.MinValueIteration = sql.NullInt64{Int64: ev.MinValueIter, Valid: true}
	}
	if ev.MaxValue != nil {
		row.MaxValue = sql.NullFloat64{Float64: *ev.MaxValue, Valid: true}
		row.MaxValueIteration = sql.NullInt64{Int64: ev.MaxValueIter, Valid: true}
	}

	assignments := clause.Set{
		{Column: clause.Column{Name: "metric"}, Value: ev.Metric},
		{Column: clause.Column{Name: "variant"}, Value: ev.Variant},
		{Column: clause.Column{Name: "value"}, Value: ev.Value},
	}
	if ev.MinValue != nil {
		cond := "last_metrics.min_value IS NULL OR last_metrics.min_value > ?"
		assignments = append(assignments,
			clause.Assignment{
				Column: clause.Column{Name: "min_value"},
				Value:  gorm.Expr("CASE WHEN "+cond+" THEN ? ELSE last_metrics.min_value END", *ev.MinValue, *ev.MinValue),
			},
			clause.Assignment{
				Column: clause.Column{Name: "min_value_iteration"},
				Value:  gorm.Expr("CASE WHEN "+cond+" THEN ? ELSE last_metrics.min_value_iteration END", *ev.MinValue, ev.MinValueIter),
			},
		)
	}
	if ev.MaxValue != nil {
		cond := "last_metrics.max_value IS NULL OR last_metrics.max_value < ?"
		assignments = append(assignments,
			clause.Assignment{
				Column: clause.Column{Name: "max_value"},
				Value:  gorm.Expr("CASE WHEN "+cond+" THEN ? ELSE last_metrics.max_value END", *ev.MaxValue, *ev.MaxValue),
			},
			clause.Assignment{
				Column: clause.Column{Name: "max_value_iteration"},
				Value:  gorm.Expr("CASE WHEN "+cond+" THEN ? ELSE last_metrics.max_value_iteration END", *ev.MaxValue, ev.MaxValueIter),
			},
		)
	}

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "owner_id"}, {Name: "metric_key"}, {Name: "variant_key"},
		},
		DoUpdates: assignments,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("error updating last metric %s/%s for %s: %w", ev.Metric, ev.Variant, ownerId, err)
	}
	return nil
}
