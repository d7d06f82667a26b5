package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coinwatch/src/models"
)

func TestStream_WireFormat(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.HeartbeatSeconds = 1
	s := newTestServerWithConfig(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub.Run(ctx)

	snapshot := models.MSnapshot{
		"BTC": {Symbol: "BTC", Holders: fptr(1000)},
	}
	s.Hub.PublishSnapshot(snapshot, nil)

	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	reqCtx, cancelReq := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelReq()
	req, err := http.NewRequestWithContext(reqCtx, "GET", ts.URL+"/api/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		t.Helper()
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read failed: %v", err)
		}
		return strings.TrimRight(line, "\n")
	}

	// Replay frame first: one data line per asset, then a blank separator.
	line := readLine()
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("expected data frame, got %q", line)
	}
	var m models.MAssetMetrics
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	if m.Symbol != "BTC" {
		t.Errorf("expected BTC replay, got %q", m.Symbol)
	}
	if sep := readLine(); sep != "" {
		t.Errorf("expected blank separator after data line, got %q", sep)
	}

	// Heartbeat comment arrives within the configured interval.
	for {
		line := readLine()
		if line == ":ping" {
			break
		}
	}
}
