package shipper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/obsidianstack/upsstats/agent/internal/config"
)

func TestToCacheJSON(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	raw, err := toCacheJSON(sample(t)[0], at)
	if err != nil {
		t.Fatalf("toCacheJSON: %v", err)
	}

	var got struct {
		Name   string         `json:"name"`
		Time   time.Time      `json:"time"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if got.Name != "ups" {
		t.Errorf("name = %q, want ups", got.Name)
	}
	if !got.Time.Equal(at) || got.Time.Location() != time.UTC {
		t.Errorf("time = %v, want %v in UTC", got.Time, at)
	}
	if got.Fields["utility_state"] != "Normal" {
		t.Errorf("utility_state = %v", got.Fields["utility_state"])
	}
	if got.Fields["output_watts"] != 81.0 {
		t.Errorf("output_watts = %v", got.Fields["output_watts"])
	}
}

func TestRedisWriter_UnreachableReturnsError(t *testing.T) {
	w := NewRedisWriter(config.RedisConfig{Address: "127.0.0.1:1", TTL: 60})
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := w.Write(ctx, sample(t)); err == nil {
		t.Fatal("Write to closed port succeeded")
	}
	if err := w.Ping(ctx); err == nil {
		t.Fatal("Ping to closed port succeeded")
	}
}

func newTestRedis(t *testing.T) (*RedisWriter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	w := NewRedisWriter(config.RedisConfig{Address: mr.Addr(), TTL: 60})
	t.Cleanup(func() { w.Close() })
	return w, mr
}

func TestRedisWriter_LatestWithTTL(t *testing.T) {
	w, mr := newTestRedis(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	if err := w.Write(context.Background(), sample(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := mr.TTL("ups:latest"); got != time.Minute {
		t.Errorf("ups:latest TTL = %v, want 1m0s", got)
	}

	raw, err := mr.Get("ups:latest")
	if err != nil {
		t.Fatalf("get ups:latest: %v", err)
	}
	var rec cacheRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if rec.Name != "ups" || !rec.Time.Equal(at) {
		t.Errorf("record = %+v, want name ups at %v", rec, at)
	}
	if rec.Fields["utility_state"] != "Normal" || rec.Fields["output_watts"] != 81.0 {
		t.Errorf("fields = %v", rec.Fields)
	}

	mr.FastForward(61 * time.Second)
	if mr.Exists("ups:latest") {
		t.Error("ups:latest still present after TTL")
	}
	if !mr.Exists("ups:recent") {
		t.Error("ups:recent expired with the latest key")
	}
}

func TestRedisWriter_RecentIsCapped(t *testing.T) {
	w, mr := newTestRedis(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int
	w.now = func() time.Time { return base.Add(time.Duration(n) * time.Second) }

	const writes = recentLen + 5
	for n = 0; n < writes; n++ {
		if err := w.Write(context.Background(), sample(t)); err != nil {
			t.Fatalf("Write %d: %v", n, err)
		}
	}

	list, err := mr.List("ups:recent")
	if err != nil {
		t.Fatalf("list ups:recent: %v", err)
	}
	if len(list) != recentLen {
		t.Fatalf("ups:recent len = %d, want %d", len(list), recentLen)
	}

	var newest, oldest cacheRecord
	if err := json.Unmarshal([]byte(list[0]), &newest); err != nil {
		t.Fatalf("unmarshal head: %v", err)
	}
	if err := json.Unmarshal([]byte(list[len(list)-1]), &oldest); err != nil {
		t.Fatalf("unmarshal tail: %v", err)
	}
	if want := base.Add((writes - 1) * time.Second); !newest.Time.Equal(want) {
		t.Errorf("head time = %v, want newest %v", newest.Time, want)
	}
	// the first five records were trimmed
	if want := base.Add(5 * time.Second); !oldest.Time.Equal(want) {
		t.Errorf("tail time = %v, want %v", oldest.Time, want)
	}
}
