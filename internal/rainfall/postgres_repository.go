package rainfall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
//
// Reads that stream (StreamReadings) acquire their own connection from the
// pool and hold it until the cursor is drained; writes run on separate
// pool connections, so batched event commits never disturb an open cursor.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL rainfall repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (f ReadingFilter) whereClause() (string, []any) {
	conds := []string{"intensity_mm_h >= $1"}
	args := []any{f.Threshold}

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if f.GridID != "" {
		add("grid_id = ", f.GridID)
	}
	if f.Start != nil {
		add("ts_utc >= ", *f.Start)
	}
	if f.End != nil {
		add("ts_utc < ", *f.End)
	}
	if f.BBox != nil {
		add("lat >= ", f.BBox.MinLat)
		add("lat <= ", f.BBox.MaxLat)
		add("lon >= ", f.BBox.MinLon)
		add("lon <= ", f.BBox.MaxLon)
	}
	return strings.Join(conds, " AND "), args
}

// StreamReadings yields matching readings ordered by (grid_id, ts_utc).
func (r *PostgresRepository) StreamReadings(ctx context.Context, f ReadingFilter, fn func(Reading) error) error {
	where, args := f.whereClause()
	query := `
		SELECT grid_id, ts_utc, lat, lon, intensity_mm_h, COALESCE(source_file, '')
		FROM rain_readings
		WHERE ` + where + `
		ORDER BY grid_id, ts_utc
	`

	// Dedicated connection: the cursor stays open across fn callbacks,
	// which may trigger writes on other connections.
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire read connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rd Reading
		if err := rows.Scan(&rd.GridID, &rd.TS, &rd.Lat, &rd.Lon, &rd.Intensity, &rd.SourceFile); err != nil {
			return fmt.Errorf("scan reading: %w", err)
		}
		if err := fn(rd); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListGridReadings returns one grid cell's readings at or above threshold.
func (r *PostgresRepository) ListGridReadings(ctx context.Context, gridID string, threshold float64) ([]Reading, error) {
	query := `
		SELECT grid_id, ts_utc, lat, lon, intensity_mm_h, COALESCE(source_file, '')
		FROM rain_readings
		WHERE grid_id = $1 AND intensity_mm_h >= $2
		ORDER BY ts_utc
	`

	rows, err := r.pool.Query(ctx, query, gridID, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var rd Reading
		if err := rows.Scan(&rd.GridID, &rd.TS, &rd.Lat, &rd.Lon, &rd.Intensity, &rd.SourceFile); err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}
	return readings, rows.Err()
}

func (f EventFilter) whereClause() (string, []any) {
	conds := []string{"threshold_mm_h = $1"}
	args := []any{f.Threshold}

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if f.Start != nil {
		add("start_ts_utc >= ", *f.Start)
	}
	if f.End != nil {
		add("start_ts_utc < ", *f.End)
	}
	if f.BBox != nil {
		add("lat >= ", f.BBox.MinLat)
		add("lat <= ", f.BBox.MaxLat)
		add("lon >= ", f.BBox.MinLon)
		add("lon <= ", f.BBox.MaxLon)
	}
	if f.MinMaxIntensity > 0 {
		add("max_intensity_mm_h >= ", f.MinMaxIntensity)
	}
	return strings.Join(conds, " AND "), args
}

// DeleteEvents removes events matching the filter (same threshold, period
// and bbox), so a rebuild never leaves stale rows behind.
func (r *PostgresRepository) DeleteEvents(ctx context.Context, f EventFilter) (int64, error) {
	where, args := f.whereClause()
	tag, err := r.pool.Exec(ctx, "DELETE FROM rain_events WHERE "+where, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertEvents persists a batch of events in one round trip.
func (r *PostgresRepository) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO rain_events (
			grid_id, lat, lon, start_ts_utc, end_ts_utc,
			hit_hours, max_intensity_mm_h, sum_intensity_mm_h, mean_intensity_mm_h,
			threshold_mm_h, repr_source_file
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(query,
			ev.GridID, ev.Lat, ev.Lon, ev.Start, ev.End,
			ev.HitCount, ev.MaxIntensity, ev.SumIntensity, ev.MeanIntensity(),
			ev.Threshold, ev.SourceFile,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

// ListEvents returns matching events ordered by (grid_id, start_ts_utc).
func (r *PostgresRepository) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	where, args := f.whereClause()
	query := `
		SELECT grid_id, lat, lon, start_ts_utc, end_ts_utc,
		       hit_hours, max_intensity_mm_h, sum_intensity_mm_h,
		       threshold_mm_h, COALESCE(repr_source_file, '')
		FROM rain_events
		WHERE ` + where + `
		ORDER BY grid_id, start_ts_utc
	`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.GridID, &ev.Lat, &ev.Lon, &ev.Start, &ev.End,
			&ev.HitCount, &ev.MaxIntensity, &ev.SumIntensity,
			&ev.Threshold, &ev.SourceFile); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
