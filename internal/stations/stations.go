// Package stations maintains a SQLite directory of parent stations and
// their platform stops, built from the agency's static GTFS feed. It backs
// the station search endpoint and ID validation for arrival queries.
package stations

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"trainwatch.transitboard.org/internal/appconf"
)

//go:embed schema.sql
var ddl string

// Station is one parent station with the routes that serve it.
type Station struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Routes []string `json:"routes"`
}

// Stop is one directional platform belonging to a parent station.
type Stop struct {
	ID        string `json:"id"`
	StationID string `json:"stationId"`
	Name      string `json:"name"`
}

// Config controls where the directory database lives.
type Config struct {
	DBPath  string
	Env     appconf.Environment
	Verbose bool
}

// NewConfig creates a directory database configuration.
func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{DBPath: dbPath, Env: env, Verbose: verbose}
}

// Directory is a queryable station/stop lookup table backed by SQLite.
type Directory struct {
	config Config
	DB     *sql.DB
}

// NewDirectory opens (and migrates) the directory database.
func NewDirectory(config Config) (*Directory, error) {
	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create directory DB: %w", err)
	}
	return &Directory{config: config, DB: db}, nil
}

func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA cache_size=-64000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	for _, stmt := range strings.Split(ddl, "-- migrate") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("error executing DDL statement [%s]: %w", stmt, err)
		}
	}

	// Each connection to a :memory: database is a separate database, so
	// in-memory access must stay on a single connection.
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return db, nil
}

// Close closes the underlying database.
func (d *Directory) Close() error {
	return d.DB.Close()
}

// Lookup returns the station with the given ID. sql.ErrNoRows signals an
// unknown station.
func (d *Directory) Lookup(ctx context.Context, stationID string) (Station, error) {
	var s Station
	var routes string
	row := d.DB.QueryRowContext(ctx,
		"SELECT id, name, routes FROM stations WHERE id = ?", stationID)
	if err := row.Scan(&s.ID, &s.Name, &routes); err != nil {
		return Station{}, err
	}
	s.Routes = splitRoutes(routes)
	return s, nil
}

// LookupStop returns the platform stop with the given ID.
func (d *Directory) LookupStop(ctx context.Context, stopID string) (Stop, error) {
	var s Stop
	row := d.DB.QueryRowContext(ctx,
		"SELECT id, station_id, name FROM stops WHERE id = ?", stopID)
	if err := row.Scan(&s.ID, &s.StationID, &s.Name); err != nil {
		return Stop{}, err
	}
	return s, nil
}

// Search returns stations whose name contains the query, case-insensitively,
// ordered by name. An empty query matches nothing.
func (d *Directory) Search(ctx context.Context, query string, limit int) ([]Station, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Station{}, nil
	}
	if limit <= 0 {
		limit = 25
	}

	rows, err := d.DB.QueryContext(ctx,
		"SELECT id, name, routes FROM stations WHERE name LIKE ? COLLATE NOCASE ORDER BY name LIMIT ?",
		"%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	results := []Station{}
	for rows.Next() {
		var s Station
		var routes string
		if err := rows.Scan(&s.ID, &s.Name, &routes); err != nil {
			return nil, err
		}
		s.Routes = splitRoutes(routes)
		results = append(results, s)
	}
	return results, rows.Err()
}

// StationCount reports the number of stations, for health checks and metrics.
func (d *Directory) StationCount(ctx context.Context) (int64, error) {
	var n int64
	err := d.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM stations").Scan(&n)
	return n, err
}

// Ping verifies database liveness.
func (d *Directory) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

func splitRoutes(csv string) []string {
	if csv == "" {
		return []string{}
	}
	return strings.Split(csv, ",")
}

// escapeLike neutralizes LIKE wildcards in user-supplied search text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "%", "")
	return strings.ReplaceAll(s, "_", "")
}
