package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/stagehand/config"
	"github.com/onnwee/stagehand/orchestrate"
)

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, string) error { return nil }

type noopMembers struct{}

func (noopMembers) UserInChannel(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	o := orchestrate.New(orchestrate.Options{
		Rules:         []config.WatchRule{},
		Notifier:      noopNotifier{},
		Members:       noopMembers{},
		Cooldown:      3 * time.Minute,
		Grace:         3 * time.Minute,
		MaxDuration:   time.Hour,
		SweepInterval: time.Minute,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go o.Run(ctx)

	srv := httptest.NewServer(NewMux(o))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("no correlation id header")
	}
}

func TestReadyz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	var body struct {
		Streaming     bool  `json:"streaming"`
		UptimeSeconds int64 `json:"uptimeSeconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.Streaming {
		t.Error("fresh engine reports streaming")
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "corr-42" {
		t.Errorf("correlation id = %q, want corr-42", got)
	}
}
