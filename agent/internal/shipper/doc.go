// Package shipper delivers Measurements to storage.
//
// Shipper.Ship never returns an error. Its policy, applied to the primary
// Store (InfluxDB 1.x via influx.go):
//   - optional echo of the outgoing batch to the log (GENERAL.Output)
//   - a write rejected with "database not found" triggers one CreateDatabase
//     call and, if that succeeds, one retry of the same batch
//   - any other write failure is logged, counted and swallowed
//
// Mirrors (currently the Redis latest-status cache in redis.go) receive every
// batch after the primary attempt; their failures are logged and swallowed
// too. Nothing is buffered or retried across cycles.
package shipper
