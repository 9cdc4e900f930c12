package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	logx "chronod/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServesTimersWithToken(t *testing.T) {
	t.Parallel()

	src := Source{Timers: func() any { return map[string]int{"timers": 3} }}
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, src, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()
	base := "http://" + s.Addr()

	if code, _ := get(t, base+"/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("healthz without token: %d, want 401", code)
	}
	if code, body := get(t, base+"/healthz?token=s3cret", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	code, body := get(t, base+"/timers", "s3cret")
	if code != http.StatusOK {
		t.Fatalf("timers: %d", code)
	}
	var got map[string]int
	if err := json.Unmarshal([]byte(body), &got); err != nil || got["timers"] != 3 {
		t.Fatalf("timers body=%q err=%v", body, err)
	}
	if code, _ := get(t, base+"/runtime", "s3cret"); code != http.StatusNotFound {
		t.Fatalf("runtime without source: %d, want 404", code)
	}
}

func TestReconfigureStopsServer(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Source{}, logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Addr() == "" {
		t.Fatalf("not listening after Start")
	}
	if err := s.Reconfigure(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if s.Addr() != "" || s.Enabled() {
		t.Fatalf("still running after disable: addr=%q", s.Addr())
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{Addr: "0.0.0.0:1"}},
		{name: "default addr", cfg: Config{Enabled: true}},
		{name: "public without token", cfg: Config{Enabled: true, Addr: ":6060"}, wantErr: true},
		{name: "public with token", cfg: Config{Enabled: true, Addr: "0.0.0.0:6060", Token: "x"}},
		{name: "public insecure", cfg: Config{Enabled: true, Addr: "0.0.0.0:6060", AllowInsecure: true}},
		{name: "localhost", cfg: Config{Enabled: true, Addr: "localhost:6060"}},
		{name: "malformed", cfg: Config{Enabled: true, Addr: "6060"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.cfg.Check(); (err != nil) != tt.wantErr {
				t.Fatalf("Check err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
