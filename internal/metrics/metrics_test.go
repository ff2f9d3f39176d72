package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("api")
	IncStop("api")
	IncFailure("api", "start")
	SetRunning(2)
	IncAllocation("ok")
	IncProxyTransition("create", "reload", false)
	AddImported("application", "created", 3)
	ObserveCommand("nginx", 0.12, nil)
	ObserveCommand("systemctl", 0.5, errors.New("exit status 1"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"vpsman_application_starts_total":   false,
		"vpsman_application_stops_total":    false,
		"vpsman_application_failures_total": false,
		"vpsman_application_running":        false,
		"vpsman_port_allocations_total":     false,
		"vpsman_proxy_transitions_total":    false,
		"vpsman_reconcile_imported_total":   false,
		"vpsman_command_duration_seconds":   false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// must not panic
	IncStart("x")
	ObserveCommand("nginx", 1, nil)
	AddImported("domain", "updated", 0)
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart("web")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "vpsman_application_starts_total") {
		t.Fatalf("metrics output missing starts counter")
	}
}

func TestResourceCollectorSamplesSelf(t *testing.T) {
	c := NewResourceCollector(ResourcesConfig{Enabled: true})
	if err := c.RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register: %v", err)
	}
	self := int32(os.Getpid())
	c.Collect(context.Background(), map[string]int32{"self": self, "ghost": 0})

	u, ok := c.Get("self")
	if !ok {
		t.Skip("process sampling not permitted on this host")
	}
	if u.PID != self || u.MemoryRSS == 0 {
		t.Fatalf("unexpected sample: %+v", u)
	}
	if _, ok := c.Get("ghost"); ok {
		t.Fatalf("pid 0 must not be sampled")
	}

	c.Collect(context.Background(), map[string]int32{})
	if _, ok := c.Get("self"); ok {
		t.Fatalf("stale sample should be dropped")
	}
	c.Stop()
}
