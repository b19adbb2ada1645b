package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/obsidianstack/upsstats/agent/internal/config"
	"github.com/obsidianstack/upsstats/pkg/types"
)

// Error classes. Every error returned by Fetch or Parse wraps exactly one of
// these so the poller can log and count failures without string matching.
var (
	// ErrFetch is a transport failure: connection refused, DNS failure,
	// socket error, non-200 status or an empty reply.
	ErrFetch = errors.New("fetch failed")

	// ErrFormat means the payload could not be decoded into the expected
	// textual or JSON shape.
	ErrFormat = errors.New("malformed payload")

	// ErrField means a required key is absent or its value does not parse as
	// the required type.
	ErrField = errors.New("bad field")
)

// Scraper is the capability pair implemented by each UPS data source.
// Fetch obtains the raw reply for one poll cycle; Parse turns it into a fully
// populated Measurement or fails without producing one.
type Scraper interface {
	Source() string
	Fetch(ctx context.Context) ([]byte, error)
	Parse(raw []byte) (types.Measurement, error)
}

// New returns the Scraper selected by cfg.UPS.Source. The choice is made once
// at startup; the returned value is reused for every cycle.
func New(cfg config.Config) (Scraper, error) {
	name := cfg.InfluxDB.Measurement
	if name == "" {
		name = types.DefaultMeasurementName
	}
	switch cfg.UPS.Source {
	case config.SourcePPBE:
		return &ppbeScraper{
			url:         cfg.UPS.StatusURL(),
			client:      buildHTTPClient(cfg.UPS.TimeoutDuration()),
			measurement: name,
		}, nil
	case config.SourcePwrstat:
		return &pwrstatScraper{
			socket:      cfg.UPS.Socket,
			timeout:     cfg.UPS.TimeoutDuration(),
			measurement: name,
		}, nil
	default:
		return nil, fmt.Errorf("scraper: unsupported source %q", cfg.UPS.Source)
	}
}

// buildHTTPClient returns a client whose every request is bounded by timeout.
func buildHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          1,
			IdleConnTimeout:       90 * time.Second,
		},
		Timeout: timeout,
	}
}

// fieldError wraps ErrField with the offending key.
func fieldError(key string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrField, key, err)
}

// errMissing is the cause attached to fieldError for absent keys.
var errMissing = errors.New("missing")
