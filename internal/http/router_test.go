package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"assetdesk/internal/platform/metrics"
	"assetdesk/internal/renewal/handler"
	"assetdesk/internal/renewal/service"
	"assetdesk/internal/renewal/store"
	"assetdesk/pkg/requestcontext"
	"assetdesk/pkg/testutil"
)

type echoRegistrar struct{}

func (echoRegistrar) Register(r chi.Router) {
	r.Get("/echo", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set("X-Now", requestcontext.Now(ctx).Format(time.RFC3339))
		w.Header().Set("X-Client-IP", requestcontext.ClientIP(ctx))
		w.WriteHeader(http.StatusOK)
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter(t *testing.T) {
	fixed := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	testutil.Given(t, "a router with one healthy and one failing dependency", func(t *testing.T) {
		router := NewRouter(Options{
			Logger:   quietLogger(),
			Gatherer: prometheus.NewRegistry(),
			Now:      func() time.Time { return fixed },
			Checks: map[string]HealthCheck{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") },
			},
		}, echoRegistrar{})

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "it reports degraded with per-dependency status", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
				resp := testutil.UnmarshalResponse[HealthResponse](t, rr)
				assert.Equal(t, "degraded", resp.Status)
				assert.Equal(t, "ok", resp.Checks["postgres"])
				assert.Equal(t, "connection refused", resp.Checks["redis"])
			})
		})

		testutil.When(t, "calling a mounted route", func(t *testing.T) {
			req := testutil.NewRequest(t, http.MethodGet, "/echo")
			req.RemoteAddr = "192.0.2.5:9999"
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "request time and client metadata are set", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				assert.Equal(t, fixed.Format(time.RFC3339), rr.Header().Get("X-Now"))
				assert.Equal(t, "192.0.2.5", rr.Header().Get("X-Client-IP"))
			})
		})
	})

	testutil.Given(t, "a router without dependencies", func(t *testing.T) {
		router := NewRouter(Options{Logger: quietLogger(), Gatherer: prometheus.NewRegistry()})

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "it is ok", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONContains(t, rr, "status", "ok")
			})
		})
	})

	testutil.Given(t, "the renewal routes mounted on the router", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		svc, err := service.New(store.NewInMemoryStore(), service.WithLocation(time.UTC))
		if err != nil {
			t.Fatalf("service: %v", err)
		}
		h := handler.New(svc, nil, quietLogger(), metrics.NewWithRegisterer(reg))
		router := NewRouter(Options{Logger: quietLogger(), Gatherer: reg, Now: func() time.Time { return fixed }}, h)

		testutil.When(t, "listing renewals and scraping metrics", func(t *testing.T) {
			list := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/renewals"))
			scrape := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))

			testutil.Then(t, "the list is empty and the request was counted", func(t *testing.T) {
				testutil.AssertStatusOK(t, list)
				assert.JSONEq(t, `[]`, list.Body.String())
				testutil.AssertStatusOK(t, scrape)
				assert.Contains(t, scrape.Body.String(), "assetdesk_http_requests_total")
			})
		})
	})
}
