package scraper

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/upsstats/pkg/types"
)

// pwrstatReply is a representative pwrstatd STATUS reply.
const pwrstatReply = "STATUS\n" +
	"state=0\n" +
	"model_name=CP1500PFCLCD\n" +
	"firmware_num=CR01505BBA5\n" +
	"battery_volt=24000\n" +
	"input_rating_volt=120000\n" +
	"output_rating_watt=900000\n" +
	"avr_supported=yes\n" +
	"online_type=no\n" +
	"battery_remainingtime=3125\n" +
	"battery_charging=no\n" +
	"battery_discharging=no\n" +
	"ac_present=yes\n" +
	"boost=no\n" +
	"utility_volt=121000\n" +
	"output_volt=120000\n" +
	"load=9000\n" +
	"battery_capacity=100\n" +
	"\n"

// startPwrstatd listens on a unix socket and answers each connection with
// reply once the STATUS request has been read. It records the requests seen.
func startPwrstatd(t *testing.T, reply string) (string, <-chan string) {
	t.Helper()

	// Unix socket paths are length-limited; t.TempDir() can exceed that.
	dir, err := os.MkdirTemp("", "pwr")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "pwrstatd.ipc")

	lis, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })

	requests := make(chan string, 8)
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				line, _ := r.ReadString('\n')
				blank, _ := r.ReadString('\n')
				requests <- line + blank
				if reply != "" {
					_, _ = c.Write([]byte(reply))
				}
			}(conn)
		}
	}()
	return path, requests
}

func newTestPwrstat(path string) *pwrstatScraper {
	return &pwrstatScraper{socket: path, timeout: 2 * time.Second, measurement: types.DefaultMeasurementName}
}

func TestPwrstatScraper_FetchAndParse(t *testing.T) {
	path, requests := startPwrstatd(t, pwrstatReply)
	s := newTestPwrstat(path)

	raw, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := <-requests; got != "STATUS\n\n" {
		t.Errorf("request = %q, want %q", got, "STATUS\n\n")
	}

	m, err := s.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Len() != 10 {
		t.Errorf("Len() = %d, want 10 (%v)", m.Len(), m.Keys())
	}
	if got, _ := m.String(types.FieldUtilityState); got != "Normal" {
		t.Errorf("utility_state = %q, want Normal", got)
	}
	if got, _ := m.String(types.FieldBatteryState); got != "Normal" {
		t.Errorf("battery_state = %q, want Normal", got)
	}

	wantFloats := map[string]float64{
		types.FieldUtilityVoltage: 121.0,
		types.FieldOutputVoltage:  120.0,
		types.FieldBatteryVoltage: 24.0,
		types.FieldOutputLoad:     9.0,
		// (900000 / 1000) * (9.0 / 100) = 81 W
		types.FieldOutputWatts: 81.0,
		// 81 W / 120 V
		types.FieldOutputAmps: 0.675,
	}
	for k, want := range wantFloats {
		got, ok := m.Float(k)
		if !ok || math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %v (ok=%v), want %v", k, got, ok, want)
		}
	}

	if got, _ := m.Int(types.FieldBatteryCapacity); got != 100 {
		t.Errorf("battery_capacity = %d, want 100", got)
	}
	// floor(3125 / 60) = 52
	if got, _ := m.Int(types.FieldBatteryRuntimeMin); got != 52 {
		t.Errorf("battery_runtime_minute = %d, want 52", got)
	}
}

func TestPwrstatParse_ScalingChain(t *testing.T) {
	tests := []struct {
		name        string
		rating      string
		load        string
		outputVolt  string
		remaining   string
		wantVolts   float64
		wantLoad    float64
		wantWatts   float64
		wantMinutes int64
	}{
		// 1 W rating at 45 % load, 125 s left.
		{"small rating", "1000", "45000", "120000", "125", 120, 45, 0.45, 2},
		{"idle", "1500000", "0", "230000", "59", 230, 0, 0, 0},
		{"half load", "1000000", "50000", "100000", "3600", 100, 50, 500, 60},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply := "STATUS\n" +
				"utility_volt=120000\n" +
				"output_volt=" + tc.outputVolt + "\n" +
				"battery_volt=13500\n" +
				"load=" + tc.load + "\n" +
				"output_rating_watt=" + tc.rating + "\n" +
				"battery_remainingtime=" + tc.remaining + "\n" +
				"battery_capacity=90\n"
			m, err := newTestPwrstat("").Parse([]byte(reply))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			volts, _ := m.Float(types.FieldOutputVoltage)
			load, _ := m.Float(types.FieldOutputLoad)
			watts, _ := m.Float(types.FieldOutputWatts)
			amps, _ := m.Float(types.FieldOutputAmps)
			minutes, _ := m.Int(types.FieldBatteryRuntimeMin)

			if math.Abs(volts-tc.wantVolts) > 1e-9 {
				t.Errorf("output_voltage = %v, want %v", volts, tc.wantVolts)
			}
			if math.Abs(load-tc.wantLoad) > 1e-9 {
				t.Errorf("output_load = %v, want %v", load, tc.wantLoad)
			}
			if math.Abs(watts-tc.wantWatts) > 1e-9 {
				t.Errorf("output_watts = %v, want %v", watts, tc.wantWatts)
			}
			if math.Abs(amps-watts/volts) > 1e-9 {
				t.Errorf("output_amps = %v, want %v", amps, watts/volts)
			}
			if minutes != tc.wantMinutes {
				t.Errorf("battery_runtime_minute = %d, want %d", minutes, tc.wantMinutes)
			}
		})
	}
}

func TestPwrstatParse_ZeroOutputVoltage(t *testing.T) {
	reply := strings.Replace(pwrstatReply, "output_volt=120000", "output_volt=0", 1)
	m, err := newTestPwrstat("").Parse([]byte(reply))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if amps, _ := m.Float(types.FieldOutputAmps); amps != 0 {
		t.Errorf("output_amps with 0 V = %v, want 0", amps)
	}
}

func TestPwrstatParse_MissingKeyFailsWholeParse(t *testing.T) {
	for _, key := range []string{
		keyUtilityVolt, keyOutputVolt, keyBatteryVolt, keyLoad,
		keyOutputRatingWatt, keyRemainingTime, keyBatteryCapacity,
	} {
		t.Run(key, func(t *testing.T) {
			var kept []string
			for _, line := range strings.Split(pwrstatReply, "\n") {
				if !strings.HasPrefix(line, key+"=") {
					kept = append(kept, line)
				}
			}
			m, err := newTestPwrstat("").Parse([]byte(strings.Join(kept, "\n")))
			if !errors.Is(err, ErrField) {
				t.Fatalf("err = %v, want ErrField", err)
			}
			if m.Len() != 0 {
				t.Errorf("partial measurement returned with %d fields", m.Len())
			}
		})
	}
}

func TestPwrstatParse_MalformedLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"no separator", "garbage", ErrFormat},
		{"two separators", "model_name=a=b", ErrFormat},
		{"non-integer", "load=9.5", ErrField},
		{"empty value", "battery_capacity=", ErrField},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply := pwrstatReply + tc.line + "\n"
			if tc.want == ErrField {
				key, _, _ := strings.Cut(tc.line, "=")
				reply = strings.Replace(pwrstatReply, key+"=", "ignored_"+key+"=", 1) + tc.line + "\n"
			}
			_, err := newTestPwrstat("").Parse([]byte(reply))
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPwrstatParse_StateFlags(t *testing.T) {
	tests := []struct {
		name        string
		flags       string
		wantUtility string // "" means the field must be absent
		wantBattery string
	}{
		{"on mains, idle", "ac_present=yes\nbattery_charging=no\nbattery_discharging=no\n", "Normal", "Normal"},
		{"on mains, charging", "ac_present=yes\nbattery_charging=yes\nbattery_discharging=no\n", "Normal", "Charging"},
		{"blackout", "ac_present=no\nbattery_charging=no\nbattery_discharging=yes\n", "Power Failure", "Discharging"},
		{"upper-case values", "ac_present=YES\nbattery_discharging=NO\n", "Normal", "Normal"},
		{"ac flag only", "ac_present=no\n", "Power Failure", ""},
		{"no flags", "", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply := "STATUS\n" +
				"utility_volt=120000\noutput_volt=120000\nbattery_volt=13500\n" +
				"load=9000\noutput_rating_watt=900000\nbattery_remainingtime=600\n" +
				"battery_capacity=90\n" + tc.flags
			m, err := newTestPwrstat("").Parse([]byte(reply))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			utility, hasUtility := m.String(types.FieldUtilityState)
			if hasUtility != (tc.wantUtility != "") || utility != tc.wantUtility {
				t.Errorf("utility_state = %q (present=%v), want %q", utility, hasUtility, tc.wantUtility)
			}
			battery, hasBattery := m.String(types.FieldBatteryState)
			if hasBattery != (tc.wantBattery != "") || battery != tc.wantBattery {
				t.Errorf("battery_state = %q (present=%v), want %q", battery, hasBattery, tc.wantBattery)
			}
		})
	}
}

func TestPwrstatParse_BadStateFlag(t *testing.T) {
	reply := strings.Replace(pwrstatReply, "ac_present=yes", "ac_present=maybe", 1)
	m, err := newTestPwrstat("").Parse([]byte(reply))
	if !errors.Is(err, ErrField) {
		t.Fatalf("err = %v, want ErrField", err)
	}
	if m.Len() != 0 {
		t.Errorf("partial measurement returned with %d fields", m.Len())
	}
}

func TestPwrstatParse_CRLF(t *testing.T) {
	reply := strings.ReplaceAll(pwrstatReply, "\n", "\r\n")
	if _, err := newTestPwrstat("").Parse([]byte(reply)); err != nil {
		t.Errorf("Parse(CRLF) error = %v", err)
	}
}

func TestPwrstatScraper_NoDaemonIsFetchError(t *testing.T) {
	s := newTestPwrstat(filepath.Join(os.TempDir(), "no-such-pwrstatd.ipc"))
	_, err := s.Fetch(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
}

func TestPwrstatScraper_EmptyReplyIsFetchError(t *testing.T) {
	path, _ := startPwrstatd(t, "")
	_, err := newTestPwrstat(path).Fetch(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
}
