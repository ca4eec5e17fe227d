// Package sqlsource answers queries from a relational database using one
// configured read-only lookup query.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// sql.Open driver names
var driverNames = map[string]string{
	DriverPostgres: "pgx",
	DriverMySQL:    "mysql",
	DriverSQLite:   "sqlite",
}

// Config describes one database source. Query receives the user's text and
// the row limit as its two parameters, in the driver's placeholder syntax,
// and must return title, url and score columns.
type Config struct {
	Name         string            `mapstructure:"name"`
	Driver       string            `mapstructure:"driver"`
	DSN          string            `mapstructure:"dsn"`
	Query        string            `mapstructure:"query"`
	Type         domain.SourceType `mapstructure:"type"`
	MaxOpenConns int               `mapstructure:"max_open_conns"`
}

// Provider implements broker.Provider over database/sql
type Provider struct {
	db  *sql.DB
	cfg Config
}

// Open validates the lookup query and opens a pool for the configured driver
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	name, ok := driverNames[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err := ValidateQuery(cfg.Driver, cfg.Query); err != nil {
		return nil, fmt.Errorf("invalid query for %s: %w", cfg.Name, err)
	}

	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	if cfg.Driver == DriverSQLite {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, cfg)
}

// New wraps an open pool
func New(db *sql.DB, cfg Config) (*Provider, error) {
	if err := ValidateQuery(cfg.Driver, cfg.Query); err != nil {
		return nil, fmt.Errorf("invalid query for %s: %w", cfg.Name, err)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Driver
	}
	if cfg.Type == "" {
		cfg.Type = domain.SourceTypeDatabase
	}
	return &Provider{db: db, cfg: cfg}, nil
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

func (p *Provider) SourceType() domain.SourceType {
	return p.cfg.Type
}

func (p *Provider) IsConfigured() bool {
	return p.db != nil
}

// Close releases the pool
func (p *Provider) Close() error {
	return p.db.Close()
}

// Search runs the lookup query
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.Source, error) {
	rows, err := p.db.QueryContext(ctx, p.cfg.Query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", p.cfg.Name, err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var (
			title string
			url   sql.NullString
			score sql.NullFloat64
		)
		if err := rows.Scan(&title, &url, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		relevance := 0.5
		if score.Valid {
			relevance = clamp(score.Float64)
		}
		sources = append(sources, domain.Source{
			Type:           p.cfg.Type,
			Origin:         p.cfg.Name,
			Title:          title,
			URL:            url.String,
			RelevanceScore: relevance,
		})
		if len(sources) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return sources, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
