// Package config loads and watches the agent configuration file.
//
// Two on-disk formats are accepted and map onto the same Config tree:
//   - INI (config.ini), with GENERAL / INFLUXDB / UPS / REDIS sections and
//     case-insensitive keys such as Delay, Output, Address, Port, Database
//   - YAML (config.yaml), with the same sections and keys in lower snake case
//
// Load(path) applies defaults (2s delay, output on, InfluxDB port 8086,
// database plex_data, UPS port 3052, socket /var/pwrstatd.ipc, 10s timeouts),
// overlays the file, applies UPSSTATS_* environment overrides and validates
// required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect edits and hands the
// re-parsed Config to onChange. The agent only applies the log level from a
// reload; every other setting needs a restart.
package config
