package pairing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rainsar/rainsar/internal/catalog"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
//
// The s1_pairs table carries a unique constraint on
// (grid_id, event_start_utc, source); inserts colliding on it are skipped.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL pair repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Exists reports whether a pair with the uniqueness key is persisted.
func (r *PostgresRepository) Exists(ctx context.Context, gridID string, eventStart time.Time, source string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM s1_pairs
			WHERE grid_id = $1 AND event_start_utc = $2 AND source = $3
		)
	`, gridID, eventStart, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pair exists check: %w", err)
	}
	return exists, nil
}

// InsertPairs persists a batch in one round trip. Key collisions are
// silently skipped.
func (r *PostgresRepository) InsertPairs(ctx context.Context, pairs []ScenePair) error {
	if len(pairs) == 0 {
		return nil
	}

	query := `
		INSERT INTO s1_pairs (
			grid_id, lat, lon, event_start_utc, event_end_utc,
			after_scene_id, after_ts_utc, before_scene_id, before_ts_utc,
			mission, pass_direction, relative_orbit, delay_hours, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (grid_id, event_start_utc, source) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, p := range pairs {
		var beforeID *string
		var beforeTS *time.Time
		if p.Before != nil {
			id := p.Before.ID()
			ts := p.Before.AcquisitionTime
			beforeID, beforeTS = &id, &ts
		}
		batch.Queue(query,
			p.GridID, p.Lat, p.Lon, p.EventStart, p.EventEnd,
			p.After.ID(), p.After.AcquisitionTime, beforeID, beforeTS,
			p.Mission(), p.PassDirection(), p.After.RelativeOrbit,
			p.DelayHours, p.Source,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range pairs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert pair: %w", err)
		}
	}
	return nil
}

const pairColumns = `
	grid_id, lat, lon, event_start_utc, event_end_utc,
	after_scene_id, after_ts_utc, before_scene_id, before_ts_utc,
	mission, pass_direction, relative_orbit, delay_hours, source
`

func scanPair(row pgx.Row) (*ScenePair, error) {
	var (
		p        ScenePair
		afterID  string
		afterTS  time.Time
		beforeID *string
		beforeTS *time.Time
		mission  string
		pass     string
		relOrbit *int
	)
	err := row.Scan(&p.GridID, &p.Lat, &p.Lon, &p.EventStart, &p.EventEnd,
		&afterID, &afterTS, &beforeID, &beforeTS,
		&mission, &pass, &relOrbit, &p.DelayHours, &p.Source)
	if err != nil {
		return nil, err
	}

	p.After = catalog.Scene{
		ProductIdentifier: afterID,
		AcquisitionTime:   afterTS,
		Platform:          mission,
		OrbitDirection:    pass,
		RelativeOrbit:     relOrbit,
	}
	if beforeID != nil {
		p.Before = &catalog.Scene{
			ProductIdentifier: *beforeID,
			Platform:          mission,
			OrbitDirection:    pass,
			RelativeOrbit:     relOrbit,
		}
		if beforeTS != nil {
			p.Before.AcquisitionTime = *beforeTS
		}
	}
	return &p, nil
}

// Get returns the pair for (grid_id, event_start), or nil when absent.
func (r *PostgresRepository) Get(ctx context.Context, gridID string, eventStart time.Time) (*ScenePair, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+pairColumns+`
		FROM s1_pairs
		WHERE grid_id = $1 AND event_start_utc = $2
	`, gridID, eventStart)

	p, err := scanPair(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pair: %w", err)
	}
	return p, nil
}

// Delete removes the pair for (grid_id, event_start).
func (r *PostgresRepository) Delete(ctx context.Context, gridID string, eventStart time.Time) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM s1_pairs WHERE grid_id = $1 AND event_start_utc = $2
	`, gridID, eventStart)
	return err
}

// ListByGrid returns one grid cell's pairs ordered by event start.
func (r *PostgresRepository) ListByGrid(ctx context.Context, gridID string) ([]ScenePair, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pairColumns+`
		FROM s1_pairs
		WHERE grid_id = $1
		ORDER BY event_start_utc
	`, gridID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPairs(rows)
}

func (f ListFilter) whereClause() (string, []any) {
	conds := []string{"TRUE"}
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if f.MinLat != 0 || f.MaxLat != 0 {
		add("lat >= ", f.MinLat)
		add("lat <= ", f.MaxLat)
	}
	if f.MinLon != 0 || f.MaxLon != 0 {
		add("lon >= ", f.MinLon)
		add("lon <= ", f.MaxLon)
	}
	if f.Start != nil {
		add("event_start_utc >= ", *f.Start)
	}
	if f.End != nil {
		add("event_start_utc < ", *f.End)
	}
	if f.MaxDelayHours > 0 {
		add("delay_hours <= ", f.MaxDelayHours)
	}
	if f.Source != "" {
		add("source = ", f.Source)
	}
	return strings.Join(conds, " AND "), args
}

// List returns pairs matching the filter ordered by grid then event start.
func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]ScenePair, error) {
	where, args := f.whereClause()
	rows, err := r.pool.Query(ctx, `
		SELECT `+pairColumns+`
		FROM s1_pairs
		WHERE `+where+`
		ORDER BY grid_id, event_start_utc
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPairs(rows)
}

func collectPairs(rows pgx.Rows) ([]ScenePair, error) {
	var pairs []ScenePair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *p)
	}
	return pairs, rows.Err()
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
