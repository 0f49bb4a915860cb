package restriction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const tilesetQuery = `SELECT * FROM "service-wmts".view_tileset_concatenated`

type PostgresConfig struct {
	Host           string
	Port           int
	Name           string
	User           string
	Password       string
	ConnectTimeout time.Duration
	// ConnectRetries bounds the attempts made by OpenPostgres after the first one.
	ConnectRetries int
	RetryInterval  time.Duration
}

func (c PostgresConfig) dsn() string {
	timeout := int(c.ConnectTimeout.Seconds())
	if timeout <= 0 {
		timeout = 5
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s connect_timeout=%d sslmode=disable",
		c.Host, c.Port, c.Name, c.User, c.Password, timeout,
	)
}

// OpenPostgres connects to the configuration database, retrying a bounded
// number of times with a constant interval.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(max(cfg.ConnectRetries, 0))),
		ctx,
	)

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("Unable to connect to configuration database",
				zap.String("host", cfg.Host),
				zap.String("db", cfg.Name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	}

	if err := backoff.Retry(ping, policy); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s on %s: %w", cfg.Name, cfg.Host, err)
	}

	logger.Info("Connected to configuration database", zap.String("host", cfg.Host), zap.String("db", cfg.Name))
	return db, nil
}

// PostgresSource reads one row per layer from the tileset view.
type PostgresSource struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresSource(db *sql.DB, logger *zap.Logger) *PostgresSource {
	return &PostgresSource{db: db, logger: logger}
}

func (s *PostgresSource) Load(ctx context.Context) ([]Restriction, error) {
	rows, err := s.db.QueryContext(ctx, tilesetQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve wmts config from db: %w", err)
	}
	defer rows.Close()

	var records []Restriction
	for rows.Next() {
		r, err := scanRestriction(rows)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("WMTS config record", zap.Int("index", len(records)), zap.String("layer", r.LayerID))
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wmts config: %w", err)
	}

	s.logger.Info("Found wmts config records", zap.Int("records", len(records)))
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRestriction maps a row by position, the view column order is
// layer, timestamps, formats, resolution_min, resolution_max,
// s3_resolution_max, cache_ttl, wms_gutter.
func scanRestriction(row scanner) (Restriction, error) {
	var (
		r                              Restriction
		resMin, resMax, cacheThreshold sql.NullFloat64
		cacheTTL, gutter               sql.NullInt64
	)

	err := row.Scan(
		&r.LayerID,
		pq.Array(&r.Timestamps),
		pq.Array(&r.Formats),
		&resMin,
		&resMax,
		&cacheThreshold,
		&cacheTTL,
		&gutter,
	)
	if err != nil {
		return Restriction{}, fmt.Errorf("failed to scan wmts config row: %w", err)
	}

	r.ResolutionMin = resMin.Float64
	r.ResolutionMax = resMax.Float64
	r.CacheThreshold = cacheThreshold.Float64
	r.CacheTTL = int(cacheTTL.Int64)
	r.Gutter = int(gutter.Int64)
	return r, nil
}
