package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/metrics"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/server/api"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
)

func TestServerExposesMetricsAndMetadata(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.NewProm("stickerbox", registry).IncImportsAccepted()

	app := NewServer(Config{}, api.Deps{
		Name:          "Hypernet.Stickerbox",
		Version:       "1.0.0",
		Destination:   "local",
		AccessBaseURL: "https://cdn.example.com/packs",
	}, registry).App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "stickerbox_imports_accepted_total 1") {
		t.Fatalf("unexpected metrics response %d: %s", resp.StatusCode, raw)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/.well-known", nil), -1)
	if err != nil {
		t.Fatalf("well-known: %v", err)
	}
	defer resp.Body.Close()
	var meta map[string]string
	if err := jsoniter.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta["name"] != "Hypernet.Stickerbox" || meta["destination"] != "local" || meta["access_baseurl"] != "https://cdn.example.com/packs" {
		t.Fatalf("unexpected metadata %v", meta)
	}
}
