//go:build integration

package timeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"lamport/internal/timeline"
	"lamport/pkg/testutil/containers"
)

type PostgresTimelineSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *timeline.PostgresStore
}

func TestPostgresTimelineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTimelineSuite))
}

func (s *PostgresTimelineSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = timeline.NewPostgres(s.postgres.DB)
}

func (s *PostgresTimelineSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "timeline_events"))
}

func (s *PostgresTimelineSuite) TestListAndCount() {
	ctx := context.Background()
	records := seedRecords(s.T(), s.store)

	bySubject, err := s.store.ListBySubject(ctx, "1", timeline.Page{})
	s.Require().NoError(err)
	s.Require().Len(bySubject, 3)
	s.Equal(timeline.EventTypeVote, bySubject[0].EventType)

	byType, err := s.store.ListByTypes(ctx, []timeline.EventType{timeline.EventTypeRegister, timeline.EventTypeVote}, timeline.Page{})
	s.Require().NoError(err)
	s.Len(byType, 3)

	n, err := s.store.CountBySubject(ctx, "1")
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	got, err := s.store.Get(ctx, records[3].EventID)
	s.Require().NoError(err)
	s.Equal("2", got.SubjectID)
	s.True(records[3].CreatedAt.Equal(got.CreatedAt))
}

func (s *PostgresTimelineSuite) TestWriterDuplicateDelivery() {
	ctx := context.Background()
	w := timeline.NewWriter(s.store)
	e := timeline.Event{SubjectID: "7", EventType: timeline.EventTypeVote, Content: "First vote cast"}

	s.Require().NoError(w.Handle(ctx, e))
	s.Require().NoError(w.Handle(ctx, e))

	n, err := s.store.CountBySubject(ctx, "7")
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}
