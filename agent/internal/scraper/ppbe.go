package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/obsidianstack/upsstats/agent/internal/compute"
	"github.com/obsidianstack/upsstats/pkg/types"
)

// ppbePrefix is the JavaScript assignment the agent wraps its JSON in.
const ppbePrefix = "var ppbeJsObj="

// ppbeMaxBody caps how much of the status script is read.
const ppbeMaxBody = 1 << 20

type ppbeScraper struct {
	url         string
	client      *http.Client
	measurement string
}

func (s *ppbeScraper) Source() string { return "ppbe" }

// Fetch GETs the status script. Any transport failure or non-200 reply is
// an ErrFetch.
func (s *ppbeScraper) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrFetch, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, ppbeMaxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	slog.Debug("scraper: ppbe fetched", "url", s.url, "bytes", len(body))
	return body, nil
}

// Parse strips the JavaScript wrapper, decodes the JSON tree and extracts the
// canonical fields.
func (s *ppbeScraper) Parse(raw []byte) (types.Measurement, error) {
	tree, err := decodePPBE(raw)
	if err != nil {
		return types.Measurement{}, err
	}
	return parsePPBEStatus(s.measurement, tree)
}

// decodePPBE turns `var ppbeJsObj={...};` into a generic JSON tree. Numbers
// are kept as json.Number so they can be parsed strictly later.
//
// Exactly one trailing ';' is removed and nothing else: any other terminator,
// or a doubled ";;", leaves trailing data and is rejected as ErrFormat.
func decodePPBE(raw []byte) (map[string]any, error) {
	body := bytes.TrimSpace(raw)
	body = bytes.TrimPrefix(body, []byte(ppbePrefix))
	body = bytes.TrimSuffix(bytes.TrimSpace(body), []byte(";"))

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: decode json: %w", ErrFormat, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrFormat)
	}
	// Anything after the object means the wrapper was not what we expected.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after json object", ErrFormat)
	}
	return tree, nil
}

// ppbeField describes one extracted value: its path under "status" and how
// the raw JSON value is converted.
type ppbeField struct {
	name string
	path []string
	conv func(any) (any, error)
}

var ppbeFields = []ppbeField{
	{types.FieldUtilityState, []string{"utility", "state"}, asString},
	{types.FieldOutputState, []string{"output", "state"}, asString},
	{types.FieldBatteryState, []string{"battery", "state"}, asString},
	{types.FieldUtilityStateWarning, []string{"utility", "stateWarning"}, asString},
	{types.FieldOutputStateWarning, []string{"output", "stateWarning"}, asString},
	{types.FieldBatteryStateWarning, []string{"battery", "stateWarning"}, asString},
	{types.FieldUtilityVoltage, []string{"utility", "voltage"}, asFloat},
	{types.FieldOutputVoltage, []string{"output", "voltage"}, asFloat},
	{types.FieldBatteryVoltage, []string{"battery", "voltage"}, asFloat},
	{types.FieldOutputLoad, []string{"output", "load"}, asFloat},
	{types.FieldOutputWatts, []string{"output", "watt"}, asFloat},
	{types.FieldOutputLoadWarning, []string{"output", "outputLoadWarning"}, asString},
	{types.FieldBatteryCapacity, []string{"battery", "capacity"}, asInt},
	{types.FieldBatteryRuntimeHour, []string{"battery", "runtimeHour"}, asInt},
	{types.FieldBatteryRuntimeMin, []string{"battery", "runtimeMinute"}, asInt},
}

// parsePPBEStatus extracts every ppbeFields entry from tree["status"] and
// derives output_amps. The first missing or malformed value aborts the parse.
func parsePPBEStatus(name string, tree map[string]any) (types.Measurement, error) {
	status, ok := tree["status"].(map[string]any)
	if !ok {
		return types.Measurement{}, fieldError("status", errMissing)
	}

	fields := make(map[string]any, len(ppbeFields)+1)
	for _, f := range ppbeFields {
		key := "status." + strings.Join(f.path, ".")
		v, err := lookup(status, f.path)
		if err != nil {
			return types.Measurement{}, fieldError(key, err)
		}
		conv, err := f.conv(v)
		if err != nil {
			return types.Measurement{}, fieldError(key, err)
		}
		fields[f.name] = conv
	}

	watts := fields[types.FieldOutputWatts].(float64)
	volts := fields[types.FieldOutputVoltage].(float64)
	fields[types.FieldOutputAmps] = compute.Amps(watts, volts)

	return types.NewMeasurement(name, fields)
}

// lookup walks path through nested objects.
func lookup(obj map[string]any, path []string) (any, error) {
	var cur any = obj
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, errMissing
		}
		cur, ok = m[p]
		if !ok {
			return nil, errMissing
		}
	}
	return cur, nil
}

// asString renders state and warning values. The agent reports states as
// strings and warnings as booleans; both are stored as text.
func asString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case json.Number:
		return t.String(), nil
	case nil:
		return nil, errors.New("null value")
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
}

// asFloat accepts a JSON number or a numeric string.
func asFloat(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return compute.ParseFloat(t.String())
	case string:
		return compute.ParseFloat(t)
	case nil:
		return nil, errors.New("null value")
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
}

// asInt accepts an integral JSON number or an integer string.
func asInt(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return compute.ParseInt(t.String())
	case string:
		return compute.ParseInt(t)
	case nil:
		return nil, errors.New("null value")
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
}
