//go:build integration

package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"assetdesk/internal/platform/config"
	"assetdesk/internal/platform/kafka"
	"assetdesk/internal/renewal/models"
	"assetdesk/internal/renewal/service"
	"assetdesk/internal/renewal/store"
	audit "assetdesk/pkg/platform/audit"
	"assetdesk/pkg/platform/audit/outbox"
	"assetdesk/pkg/platform/audit/publisher"
	auditpostgres "assetdesk/pkg/platform/audit/store/postgres"
	txcontext "assetdesk/pkg/platform/tx"
	"assetdesk/pkg/testutil/containers"
)

type capturingProducer struct {
	mu   sync.Mutex
	keys []string
	vals [][]byte
	err  error
}

func (p *capturingProducer) Produce(_ context.Context, _ string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, string(key))
	p.vals = append(p.vals, value)
	return nil
}

type OutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	audit    *auditpostgres.Store
	service  *service.Service
}

func TestOutboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxSuite))
}

func (s *OutboxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.audit = auditpostgres.New(s.postgres.DB)

	var err error
	s.service, err = service.New(store.NewPostgres(s.postgres.DB),
		service.WithTxRunner(txcontext.NewSQLRunner(s.postgres.DB)),
		service.WithAuditPublisher(publisher.NewPublisher(s.audit)),
	)
	s.Require().NoError(err)
}

func (s *OutboxSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "renewals", "outbox"))
}

func (s *OutboxSuite) unpublished() int {
	var n int
	err := s.postgres.DB.QueryRow(`SELECT count(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	s.Require().NoError(err)
	return n
}

func (s *OutboxSuite) TestServiceWritesOutboxInTransaction() {
	ctx := context.Background()
	r, err := s.service.Create(ctx, models.Draft{Particulars: "Trade licence"})
	s.Require().NoError(err)

	events, err := s.audit.ListBySubject(ctx, r.ID.String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.EventRenewalCreated, events[0].Action)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal("Trade licence", events[0].Details["compliance_particulars"])
}

func (s *OutboxSuite) TestFailedUpdateWritesNoOutboxRow() {
	ctx := context.Background()
	_, err := s.service.Update(ctx, 4242, models.Draft{Particulars: "missing"})
	s.Require().Error(err)
	s.Zero(s.unpublished())
}

func (s *OutboxSuite) TestProcessBatch() {
	ctx := context.Background()

	s.Run("publishes pending rows once", func() {
		s.SetupTest()
		r, err := s.service.Create(ctx, models.Draft{Particulars: "Fire NOC"})
		s.Require().NoError(err)
		s.Require().NoError(s.service.Delete(ctx, r.ID))
		s.Equal(2, s.unpublished())

		producer := &capturingProducer{}
		relay := outbox.NewRelay(s.postgres.DB, producer, "assetdesk.audit", outbox.WithBatchSize(10))

		n, err := relay.ProcessBatch(ctx)
		s.Require().NoError(err)
		s.Equal(2, n)
		s.Equal([]string{r.ID.String(), r.ID.String()}, producer.keys)

		var first audit.Event
		s.Require().NoError(json.Unmarshal(producer.vals[0], &first))
		s.Equal(audit.EventRenewalCreated, first.Action)

		n, err = relay.ProcessBatch(ctx)
		s.Require().NoError(err)
		s.Zero(n)
		s.Zero(s.unpublished())
	})

	s.Run("producer failure keeps rows pending", func() {
		s.SetupTest()
		_, err := s.service.Create(ctx, models.Draft{Particulars: "Lift inspection"})
		s.Require().NoError(err)

		relay := outbox.NewRelay(s.postgres.DB, &capturingProducer{err: errors.New("broker down")}, "assetdesk.audit")
		_, err = relay.ProcessBatch(ctx)
		s.Require().Error(err)
		s.Equal(1, s.unpublished())
	})

	s.Run("batch size bounds one pass", func() {
		s.SetupTest()
		for _, p := range []string{"a", "b", "c"} {
			_, err := s.service.Create(ctx, models.Draft{Particulars: p})
			s.Require().NoError(err)
		}
		relay := outbox.NewRelay(s.postgres.DB, &capturingProducer{}, "assetdesk.audit", outbox.WithBatchSize(2))
		n, err := relay.ProcessBatch(ctx)
		s.Require().NoError(err)
		s.Equal(2, n)
		s.Equal(1, s.unpublished())
	})
}

func (s *OutboxSuite) TestRelayToRedpanda() {
	broker := containers.GetManager().GetRedpanda(s.T())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := kafka.New(ctx, config.KafkaConfig{Brokers: broker.Brokers, ClientID: "outbox-test"})
	s.Require().NoError(err)
	defer client.Close()

	const topic = "assetdesk.audit.test"
	s.Require().NoError(client.EnsureTopics(ctx, 1, 1, topic))

	r, err := s.service.Create(ctx, models.Draft{Particulars: "Pollution consent"})
	s.Require().NoError(err)

	relay := outbox.NewRelay(s.postgres.DB, client, topic, outbox.WithInterval(50*time.Millisecond))
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- relay.Run(runCtx) }()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().NotEmpty(records)
	s.Equal(r.ID.String(), string(records[0].Key))

	stop()
	s.NoError(<-done)
	s.Eventually(func() bool { return s.unpublished() == 0 }, 5*time.Second, 50*time.Millisecond)
}
