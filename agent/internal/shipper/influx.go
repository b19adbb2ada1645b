package shipper

import (
	"context"
	"fmt"
	"strings"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/obsidianstack/upsstats/agent/internal/config"
	"github.com/obsidianstack/upsstats/pkg/types"
)

// Compile-time interface check.
var _ Store = (*InfluxWriter)(nil)

// InfluxWriter writes measurements to an InfluxDB 1.x server over its HTTP API.
//
// The v2 client takes no context, so ctx is only checked before a request is
// sent. A request already in flight runs until it completes or hits
// INFLUXDB.Timeout, even if ctx is cancelled meanwhile.
type InfluxWriter struct {
	client   client.Client
	database string
	tags     map[string]string
}

// NewInfluxWriter builds a client for cfg. No connection is made until the
// first write.
func NewInfluxWriter(cfg config.InfluxDBConfig) (*InfluxWriter, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:      cfg.URL(),
		Username:  cfg.Username,
		Password:  cfg.Password,
		UserAgent: "upsstats",
		Timeout:   cfg.TimeoutDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("influxdb client: %w", err)
	}
	return &InfluxWriter{client: c, database: cfg.Database, tags: cfg.Tags}, nil
}

// Write sends batch as one line-protocol request. A "database not found"
// rejection is reported as ErrDatabaseNotFound.
func (w *InfluxWriter) Write(ctx context.Context, batch []types.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bp, err := toBatch(w.database, w.tags, batch)
	if err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	if err := w.client.Write(bp); err != nil {
		if isDatabaseNotFound(err) {
			return fmt.Errorf("influxdb write %q: %w", w.database, ErrDatabaseNotFound)
		}
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

// CreateDatabase issues CREATE DATABASE for name. InfluxDB treats it as a
// no-op when the database already exists.
func (w *InfluxWriter) CreateDatabase(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q := client.NewQuery("CREATE DATABASE "+quoteIdent(name), "", "")
	resp, err := w.client.Query(q)
	if err != nil {
		return fmt.Errorf("influxdb create database %q: %w", name, err)
	}
	if err := resp.Error(); err != nil {
		return fmt.Errorf("influxdb create database %q: %w", name, err)
	}
	return nil
}

// Close releases idle HTTP connections.
func (w *InfluxWriter) Close() error {
	return w.client.Close()
}

// isDatabaseNotFound matches the error body InfluxDB 1.x returns with a 404
// on /write, e.g. {"error":"database not found: \"plex_data\""}.
func isDatabaseNotFound(err error) bool {
	return strings.Contains(err.Error(), "database not found")
}

// quoteIdent renders name as a double-quoted InfluxQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
}
