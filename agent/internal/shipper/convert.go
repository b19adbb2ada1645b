package shipper

import (
	"encoding/json"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/obsidianstack/upsstats/pkg/types"
)

// toBatch converts measurements into an InfluxDB batch for database.
// Points carry no timestamp; the server stamps them on arrival.
func toBatch(database string, tags map[string]string, batch []types.Measurement) (client.BatchPoints, error) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{Database: database})
	if err != nil {
		return nil, fmt.Errorf("new batch: %w", err)
	}
	for _, m := range batch {
		pt, err := client.NewPoint(m.Name(), tags, m.Fields())
		if err != nil {
			return nil, fmt.Errorf("new point %q: %w", m.Name(), err)
		}
		bp.AddPoint(pt)
	}
	return bp, nil
}

// cacheRecord is the JSON document stored in Redis for one measurement.
type cacheRecord struct {
	Name   string         `json:"name"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields"`
}

// toCacheJSON encodes m with the time it was shipped.
func toCacheJSON(m types.Measurement, at time.Time) ([]byte, error) {
	return json.Marshal(cacheRecord{
		Name:   m.Name(),
		Time:   at.UTC(),
		Fields: m.Fields(),
	})
}
