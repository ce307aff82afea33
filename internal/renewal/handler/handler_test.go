package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"assetdesk/internal/platform/metrics"
	"assetdesk/internal/platform/middleware"
	"assetdesk/internal/renewal/models"
	"assetdesk/internal/renewal/service"
	"assetdesk/internal/renewal/store"
	"assetdesk/internal/renewal/watcher"
	"assetdesk/pkg/domain"
	"assetdesk/pkg/testutil"
)

// =============================================================================
// Renewal Handler Test Suite
// =============================================================================
// Justification for handler tests: these round-trips pin the wire contract
// of /renewals (status codes, error envelope, date encoding and derived
// fields) against the real service over the in-memory store.

type recordBody struct {
	ID                 int64    `json:"id"`
	Particulars        string   `json:"compliance_particulars"`
	Frequency          string   `json:"frequency"`
	LastDueDate        *string  `json:"last_due_date"`
	NextDueDate        *string  `json:"next_due_date"`
	NotificationStatus string   `json:"notification_status"`
	ActualCost         *float64 `json:"actual_cost"`
	IsOverdue          bool     `json:"is_overdue"`
}

type HandlerSuite struct {
	suite.Suite
	now     time.Time
	svc     *service.Service
	watcher *watcher.Watcher
	router  http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.now = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.svc, err = service.New(store.NewInMemoryStore(),
		service.WithLogger(logger),
		service.WithLocation(time.UTC),
	)
	s.Require().NoError(err)

	s.watcher, err = watcher.New(s.svc, watcher.NewMemorySnapshotStore(),
		watcher.WithLogger(logger),
		watcher.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)

	h := New(s.svc, s.watcher, logger, metrics.NewWithRegisterer(prometheus.NewRegistry()))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.WithRequestTime(req, s.now))
}

func (s *HandlerSuite) create(body any) recordBody {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/renewals", body))
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	return *testutil.UnmarshalResponse[recordBody](s.T(), rr)
}

func (s *HandlerSuite) TestCreate() {
	s.Run("derives next due date from last due date and frequency", func() {
		s.SetupTest()
		got := s.create(map[string]any{
			"compliance_particulars": "Fire NOC",
			"last_due_date":          "2024-01-31",
			"frequency":              "Monthly",
		})
		s.Positive(got.ID)
		s.Require().NotNil(got.NextDueDate)
		s.Equal("2024-02-29", *got.NextDueDate)
		s.Equal("pending", got.NotificationStatus)
		s.True(got.IsOverdue)
	})

	s.Run("explicit next due date wins", func() {
		s.SetupTest()
		got := s.create(map[string]any{
			"compliance_particulars": "Trade licence",
			"last_due_date":          "2024-01-15",
			"frequency":              "Yearly",
			"next_due_date":          "2025-06-30",
		})
		s.Equal("2025-06-30", *got.NextDueDate)
		s.False(got.IsOverdue)
	})

	s.Run("empty date strings are null", func() {
		s.SetupTest()
		got := s.create(map[string]any{
			"compliance_particulars":     "Pollution consent",
			"last_due_date":              "",
			"actual_date_of_compliences": "",
			"next_due_date":              "",
		})
		s.Nil(got.LastDueDate)
		s.Nil(got.NextDueDate)
		s.Empty(got.Frequency)
	})

	s.Run("timestamp-shaped date is truncated", func() {
		s.SetupTest()
		got := s.create(map[string]any{
			"compliance_particulars": "Lift inspection",
			"next_due_date":          "2025-01-31T00:00:00Z",
		})
		s.Equal("2025-01-31", *got.NextDueDate)
	})

	s.Run("unknown frequency is stored without derivation", func() {
		s.SetupTest()
		got := s.create(map[string]any{
			"compliance_particulars": "Boiler certificate",
			"last_due_date":          "2024-05-01",
			"frequency":              "Biennial",
		})
		s.Equal("Biennial", got.Frequency)
		s.Nil(got.NextDueDate)
	})

	s.Run("null frequency has no interval to derive from", func() {
		s.SetupTest()
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/renewals",
			`{"compliance_particulars":"Fire NOC","last_due_date":"2024-12-01","frequency":null}`))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		testutil.AssertJSONContains(s.T(), rr, "frequency", nil)
		testutil.AssertJSONContains(s.T(), rr, "next_due_date", nil)
		testutil.AssertJSONContains(s.T(), rr, "last_due_date", "2024-12-01")
	})

	s.Run("validation failures are 400 validation_error", func() {
		cases := map[string]string{
			"missing particulars": `{"compliance_particulars":"   "}`,
			"negative cost":       `{"compliance_particulars":"x","actual_cost":-1}`,
			"malformed date":      `{"compliance_particulars":"x","last_due_date":"31/01/2025"}`,
			"unknown status":      `{"compliance_particulars":"x","notification_status":"sent"}`,
			"wrong type":          `{"compliance_particulars":"x","actual_cost":"ten"}`,
		}
		for name, body := range cases {
			s.Run(name, func() {
				s.SetupTest()
				rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/renewals", body))
				testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

				list := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/renewals"))
				s.JSONEq(`[]`, list.Body.String(), "nothing is stored")
			})
		}
	})

	s.Run("malformed JSON is bad_request", func() {
		s.SetupTest()
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/renewals", `{"compliance_particulars":`))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("non-JSON content type is rejected", func() {
		s.SetupTest()
		req := httptest.NewRequest(http.MethodPost, "/renewals", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "text/plain")
		rr := s.do(req)
		s.Equal(http.StatusUnsupportedMediaType, rr.Code)
	})
}

func (s *HandlerSuite) TestGetListUpdateDelete() {
	s.Run("round trip", func() {
		s.SetupTest()
		created := s.create(map[string]any{
			"compliance_particulars": "Fire NOC",
			"authority_provider":     "Municipal Fire Department",
			"next_due_date":          "2025-02-01",
		})
		path := "/renewals/" + strconv.FormatInt(created.ID, 10)

		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, path))
		testutil.AssertStatusOK(s.T(), rr)
		got := testutil.UnmarshalResponse[recordBody](s.T(), rr)
		s.Equal("Fire NOC", got.Particulars)

		rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPut, path, map[string]any{
			"id":                     999,
			"compliance_particulars": "Fire NOC renewal",
			"last_due_date":          "2025-01-05",
			"frequency":              "Quarterly",
			"notification_status":    "done",
		}))
		testutil.AssertStatusOK(s.T(), rr)
		updated := testutil.UnmarshalResponse[recordBody](s.T(), rr)
		s.Equal(created.ID, updated.ID, "body id is ignored")
		s.Equal("2025-04-05", *updated.NextDueDate)
		s.Equal("done", updated.NotificationStatus)

		rr = s.do(testutil.NewRequest(s.T(), http.MethodDelete, path))
		s.Equal(http.StatusNoContent, rr.Code)

		rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, path))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("list filters by q", func() {
		s.SetupTest()
		s.create(map[string]any{"compliance_particulars": "Fire NOC", "law_statute": "Fire Act"})
		s.create(map[string]any{"compliance_particulars": "Trade licence"})

		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/renewals?q=fire"))
		testutil.AssertStatusOK(s.T(), rr)
		items := testutil.UnmarshalResponse[[]recordBody](s.T(), rr)
		s.Require().Len(*items, 1)
		s.Equal("Fire NOC", (*items)[0].Particulars)
	})

	s.Run("unknown id is 404", func() {
		s.SetupTest()
		for _, method := range []string{http.MethodGet, http.MethodDelete} {
			rr := s.do(testutil.NewRequest(s.T(), method, "/renewals/42"))
			testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
		}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPut, "/renewals/42", map[string]any{"compliance_particulars": "x"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("malformed id is 400", func() {
		s.SetupTest()
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/renewals/abc"))
		s.Equal(http.StatusBadRequest, rr.Code)
	})
}

func (s *HandlerSuite) TestDueSoon() {
	s.Run("counts records inside the window", func() {
		s.SetupTest()
		s.create(map[string]any{"compliance_particulars": "yesterday", "next_due_date": "2025-01-09"})
		s.create(map[string]any{"compliance_particulars": "two days ago", "next_due_date": "2025-01-08"})
		s.create(map[string]any{"compliance_particulars": "last day", "next_due_date": "2025-03-10"})
		s.create(map[string]any{"compliance_particulars": "past window", "next_due_date": "2025-03-11"})
		s.create(map[string]any{"compliance_particulars": "no date"})

		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/renewals/due-soon"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[struct {
			Count int          `json:"count"`
			Today string       `json:"today"`
			Items []recordBody `json:"items"`
		}](s.T(), rr)
		s.Equal(2, resp.Count)
		s.Equal("2025-01-10", resp.Today)
		s.Require().Len(resp.Items, 2)
		s.Equal("yesterday", resp.Items[0].Particulars)
		s.True(resp.Items[0].IsOverdue)
		s.Equal("last day", resp.Items[1].Particulars)
	})
}

func (s *HandlerSuite) TestAlerts() {
	type alertsBody struct {
		Count       int             `json:"count"`
		Items       []watcher.Entry `json:"items"`
		RefreshedAt *time.Time      `json:"refreshed_at"`
		LastError   *string         `json:"last_error"`
	}

	s.Run("before the first refresh", func() {
		s.SetupTest()
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/renewals/alerts"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[alertsBody](s.T(), rr)
		s.Zero(resp.Count)
		s.NotNil(resp.Items)
		s.Nil(resp.RefreshedAt)
		s.Nil(resp.LastError)
	})

	s.Run("serves the latest snapshot", func() {
		s.SetupTest()
		s.create(map[string]any{"compliance_particulars": "Fire NOC", "next_due_date": "2025-02-01"})
		s.Require().NoError(s.watcher.Refresh(context.Background()))

		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/renewals/alerts"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[alertsBody](s.T(), rr)
		s.Equal(1, resp.Count)
		s.Equal("Fire NOC", resp.Items[0].Particulars)
		s.Equal("2025-02-01", resp.Items[0].NextDueDate.String())
		s.Require().NotNil(resp.RefreshedAt)
		s.True(s.now.Equal(*resp.RefreshedAt))
	})

	s.Run("without a watcher the endpoint is unavailable", func() {
		h := New(s.svc, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewWithRegisterer(prometheus.NewRegistry()))
		r := chi.NewRouter()
		h.Register(r)
		rr := testutil.DoRequest(r, testutil.NewRequest(s.T(), http.MethodGet, "/renewals/alerts"))
		s.Equal(http.StatusServiceUnavailable, rr.Code)
	})

	s.Run("store outage serves the local copy", func() {
		h := New(s.svc, brokenAlerts{}, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewWithRegisterer(prometheus.NewRegistry()))
		r := chi.NewRouter()
		h.Register(r)
		rr := testutil.DoRequest(r, testutil.NewRequest(s.T(), http.MethodGet, "/renewals/alerts"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[alertsBody](s.T(), rr)
		s.Equal(1, resp.Count)
	})
}

type brokenAlerts struct{}

func (brokenAlerts) Snapshot(context.Context) (watcher.Snapshot, error) {
	return watcher.Snapshot{Generation: 3, Items: []watcher.Entry{{ID: 1, Particulars: "cached"}}}, errors.New("redis down")
}

type deadlineService struct {
	Service
	deadline time.Time
	ok       bool
}

func (d *deadlineService) List(ctx context.Context, _ string) ([]*models.ComplianceRecord, error) {
	d.deadline, d.ok = ctx.Deadline()
	return nil, nil
}

func (d *deadlineService) Today(context.Context) domain.Date {
	return domain.MustParseDate("2025-01-10")
}

func (s *HandlerSuite) TestRequestDeadlineComesFromRootRouter() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mount := func(root chi.Router) *deadlineService {
		svc := &deadlineService{}
		New(svc, nil, logger, metrics.NewWithRegisterer(prometheus.NewRegistry())).Register(root)
		return svc
	}

	s.Run("configured timeout above 30s is honored", func() {
		root := chi.NewRouter()
		root.Use(middleware.Timeout(2 * time.Minute))
		svc := mount(root)

		start := time.Now()
		rr := testutil.DoRequest(root, testutil.NewRequest(s.T(), http.MethodGet, "/renewals"))
		testutil.AssertStatusOK(s.T(), rr)
		s.Require().True(svc.ok)
		s.Greater(svc.deadline.Sub(start), 90*time.Second)
	})

	s.Run("no root timeout leaves the request without a deadline", func() {
		root := chi.NewRouter()
		svc := mount(root)

		rr := testutil.DoRequest(root, testutil.NewRequest(s.T(), http.MethodGet, "/renewals"))
		testutil.AssertStatusOK(s.T(), rr)
		s.False(svc.ok)
	})
}
