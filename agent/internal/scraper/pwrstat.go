package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/obsidianstack/upsstats/agent/internal/compute"
	"github.com/obsidianstack/upsstats/pkg/types"
)

const (
	// pwrstatRequest asks pwrstatd for its status block.
	pwrstatRequest = "STATUS\n\n"

	// pwrstatReadSize bounds the single read; the status reply fits in it.
	pwrstatReadSize = 1024
)

// Raw keys in the pwrstatd reply. Voltages, load and rating are milli-scaled.
const (
	keyUtilityVolt      = "utility_volt"
	keyOutputVolt       = "output_volt"
	keyBatteryVolt      = "battery_volt"
	keyLoad             = "load"
	keyOutputRatingWatt = "output_rating_watt"
	keyRemainingTime    = "battery_remainingtime"
	keyBatteryCapacity  = "battery_capacity"
)

// Optional yes/no flags. When present they become utility_state and
// battery_state, using the same wording as the ppbe agent.
const (
	keyACPresent          = "ac_present"
	keyBatteryCharging    = "battery_charging"
	keyBatteryDischarging = "battery_discharging"
)

// State values derived from the pwrstatd flags.
const (
	stateNormal       = "Normal"
	statePowerFailure = "Power Failure"
	stateCharging     = "Charging"
	stateDischarging  = "Discharging"
)

type pwrstatScraper struct {
	socket      string
	timeout     time.Duration
	measurement string
}

func (s *pwrstatScraper) Source() string { return "pwrstat" }

// Fetch sends one STATUS request over the daemon socket and returns a single
// bounded read. The connection is closed on every path. An empty reply is an
// ErrFetch, not an empty status.
func (s *pwrstatScraper) Fetch(ctx context.Context) ([]byte, error) {
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "unix", s.socket)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrFetch, s.socket, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrFetch, err)
	}

	if _, err := io.WriteString(conn, pwrstatRequest); err != nil {
		return nil, fmt.Errorf("%w: write request: %w", ErrFetch, err)
	}

	buf := make([]byte, pwrstatReadSize)
	n, err := conn.Read(buf)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty reply from %s", ErrFetch, s.socket)
		}
		return nil, fmt.Errorf("%w: read reply: %w", ErrFetch, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty reply from %s", ErrFetch, s.socket)
	}
	slog.Debug("scraper: pwrstat fetched", "socket", s.socket, "bytes", n)
	return buf[:n], nil
}

// Parse splits the reply into key=value pairs and converts the milli-scaled
// readings.
func (s *pwrstatScraper) Parse(raw []byte) (types.Measurement, error) {
	kv, err := splitPwrstat(raw)
	if err != nil {
		return types.Measurement{}, err
	}
	return parsePwrstatStatus(s.measurement, kv)
}

// splitPwrstat discards the header line and splits every remaining non-blank
// line on its single '='.
func splitPwrstat(raw []byte) (map[string]string, error) {
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	kv := make(map[string]string, len(lines))
	for i, line := range lines {
		if i == 0 {
			continue // header, e.g. "STATUS"
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Count(line, "=") != 1 {
			return nil, fmt.Errorf("%w: line %d %q is not key=value", ErrFormat, i+1, line)
		}
		k, v, _ := strings.Cut(line, "=")
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kv, nil
}

// parsePwrstatStatus converts the raw pairs into a Measurement.
func parsePwrstatStatus(name string, kv map[string]string) (types.Measurement, error) {
	ints := make(map[string]int64, 7)
	for _, key := range []string{
		keyUtilityVolt, keyOutputVolt, keyBatteryVolt, keyLoad,
		keyOutputRatingWatt, keyRemainingTime, keyBatteryCapacity,
	} {
		raw, ok := kv[key]
		if !ok {
			return types.Measurement{}, fieldError(key, errMissing)
		}
		n, err := compute.ParseInt(raw)
		if err != nil {
			return types.Measurement{}, fieldError(key, err)
		}
		ints[key] = n
	}

	outputVolts := compute.FromMilli(ints[keyOutputVolt])
	loadPct := compute.FromMilli(ints[keyLoad])
	watts := compute.Watts(ints[keyOutputRatingWatt], loadPct)

	fields := map[string]any{
		types.FieldUtilityVoltage:    compute.FromMilli(ints[keyUtilityVolt]),
		types.FieldOutputVoltage:     outputVolts,
		types.FieldBatteryVoltage:    compute.FromMilli(ints[keyBatteryVolt]),
		types.FieldOutputLoad:        loadPct,
		types.FieldOutputWatts:       watts,
		types.FieldOutputAmps:        compute.Amps(watts, outputVolts),
		types.FieldBatteryCapacity:   ints[keyBatteryCapacity],
		types.FieldBatteryRuntimeMin: compute.RuntimeMinutes(ints[keyRemainingTime]),
	}
	if err := addPwrstatStates(kv, fields); err != nil {
		return types.Measurement{}, err
	}
	return types.NewMeasurement(name, fields)
}

// addPwrstatStates derives utility_state from ac_present and battery_state
// from the charging flags. Absent flags add nothing; a value other than
// yes/no is an ErrField.
func addPwrstatStates(kv map[string]string, fields map[string]any) error {
	ac, hasAC, err := pwrstatFlag(kv, keyACPresent)
	if err != nil {
		return err
	}
	if hasAC {
		fields[types.FieldUtilityState] = stateNormal
		if !ac {
			fields[types.FieldUtilityState] = statePowerFailure
		}
	}

	charging, hasCharging, err := pwrstatFlag(kv, keyBatteryCharging)
	if err != nil {
		return err
	}
	discharging, hasDischarging, err := pwrstatFlag(kv, keyBatteryDischarging)
	if err != nil {
		return err
	}
	switch {
	case discharging:
		fields[types.FieldBatteryState] = stateDischarging
	case charging:
		fields[types.FieldBatteryState] = stateCharging
	case hasCharging || hasDischarging:
		fields[types.FieldBatteryState] = stateNormal
	}
	return nil
}

// pwrstatFlag reads a yes/no key. ok reports whether the key was present.
func pwrstatFlag(kv map[string]string, key string) (v, ok bool, err error) {
	raw, ok := kv[key]
	if !ok {
		return false, false, nil
	}
	switch strings.ToLower(raw) {
	case "yes":
		return true, true, nil
	case "no":
		return false, true, nil
	default:
		return false, true, fieldError(key, fmt.Errorf("want yes or no, got %q", raw))
	}
}
