// Package types defines the canonical in-memory representation of UPS
// telemetry shared by every stage of the agent pipeline.
//
// A Measurement is produced once per poll cycle by a scraper, handed to the
// shipper and then discarded. Field values are restricted to three kinds:
// float64, int64 and string (state or enum text).
package types
