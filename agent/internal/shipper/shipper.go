package shipper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/obsidianstack/upsstats/agent/internal/metrics"
	"github.com/obsidianstack/upsstats/pkg/types"
)

// ErrDatabaseNotFound is returned by a Store whose target database does not
// exist yet.
var ErrDatabaseNotFound = errors.New("database not found")

// Sink-error kinds reported to the metrics recorder.
const (
	kindWrite       = "write"
	kindMissingDB   = "database_not_found"
	kindCreate      = "create_database"
	kindRetry       = "retry"
	kindMirrorWrite = "mirror_write"
)

// Writer persists a batch of measurements.
type Writer interface {
	Write(ctx context.Context, batch []types.Measurement) error
}

// Store is the primary time-series target: a Writer that can also provision
// its own database.
type Store interface {
	Writer
	CreateDatabase(ctx context.Context, name string) error
}

// Shipper applies the delivery policy in front of a Store.
type Shipper struct {
	store    Store
	mirrors  []Writer
	database string
	echo     bool
	rec      *metrics.Recorder
}

// New creates a Shipper writing to store. database is the name passed to
// CreateDatabase when the store reports it missing. When echo is set every
// outgoing measurement is logged before the write. rec may be nil.
func New(store Store, database string, echo bool, rec *metrics.Recorder, mirrors ...Writer) *Shipper {
	return &Shipper{
		store:    store,
		mirrors:  mirrors,
		database: database,
		echo:     echo,
		rec:      rec,
	}
}

// Ship delivers batch. Failures are handled here and never reach the caller.
func (s *Shipper) Ship(ctx context.Context, batch []types.Measurement) {
	if len(batch) == 0 {
		return
	}

	if s.echo {
		for _, m := range batch {
			slog.Info("shipper: outgoing measurement", "measurement", m)
		}
	}

	s.writeStore(ctx, batch)

	for _, w := range s.mirrors {
		if err := w.Write(ctx, batch); err != nil {
			s.rec.SinkError(kindMirrorWrite)
			slog.Warn("shipper: mirror write failed", "err", err)
		}
	}
}

// writeStore writes to the primary store, provisioning the database once if
// the store says it is missing.
func (s *Shipper) writeStore(ctx context.Context, batch []types.Measurement) {
	err := s.store.Write(ctx, batch)
	if err == nil {
		slog.Debug("shipper: batch delivered", "measurements", len(batch))
		return
	}

	if !errors.Is(err, ErrDatabaseNotFound) {
		s.rec.SinkError(kindWrite)
		slog.Error("shipper: write failed", "err", err)
		return
	}

	s.rec.SinkError(kindMissingDB)
	slog.Warn("shipper: database does not exist, attempting to create", "database", s.database)

	if err := s.store.CreateDatabase(ctx, s.database); err != nil {
		s.rec.SinkError(kindCreate)
		slog.Error("shipper: create database failed, batch dropped",
			"database", s.database, "err", err)
		return
	}
	s.rec.DatabaseCreated()
	slog.Info("shipper: database created", "database", s.database)

	if err := s.store.Write(ctx, batch); err != nil {
		s.rec.SinkError(kindRetry)
		slog.Error("shipper: write after create failed, batch dropped",
			"database", s.database, "err", err)
		return
	}
	slog.Debug("shipper: batch delivered after create", "measurements", len(batch))
}
