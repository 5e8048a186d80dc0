package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/RideTrack/internal/broker/messages"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm, Topics{Transitions: "booking.transitions", Ends: "booking.ends"})
}

func (s *ProducerSuite) TestNewProducer_NotNil() {
	p := NewProducer([]string{"localhost:0"}, Topics{})
	s.Require().NotNil(p)
	s.Require().NoError(p.Close())
}

func (s *ProducerSuite) TestPublish_OK() {
	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			return msgs[0].Topic == "t" && string(msgs[0].Key) == "k" && string(msgs[0].Value) == "v"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), "t", []byte("k"), []byte("v")))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	want := errors.New("boom")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), "t", []byte("k"), []byte("v"))
	s.Require().Error(err)
	s.Require().ErrorIs(err, want)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestHandleUpdate_Transition() {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	otp := "4821"
	v := tracker.View{SessionID: "s1", Booking: models.Booking{ID: "r1", Kind: models.BookingKindRide}}
	u := models.Update{
		Kind:       models.UpdateTransition,
		Generation: 2,
		Transition: &models.Transition{
			Seq: 3, BookingID: "r1",
			From: models.StatusSearching, To: models.StatusDriverAssigned,
			At: at, Source: models.SourcePush, OTP: &otp,
			Agent: &models.Agent{ID: "d1", Name: "Ravi"},
		},
	}

	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || msgs[0].Topic != "booking.transitions" || string(msgs[0].Key) != "r1" {
				return false
			}
			var m messages.BookingTransition
			if err := json.Unmarshal(msgs[0].Value, &m); err != nil {
				return false
			}
			return m.Seq == 3 && m.To == "driver_assigned" && m.Generation == 2 &&
				m.Agent != nil && m.Agent.Name == "Ravi" && *m.OTP == "4821" && m.Kind == "ride"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.HandleUpdate(context.Background(), v, u))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestHandleUpdate_Ended() {
	v := tracker.View{SessionID: "s1", Booking: models.Booking{ID: "p1"}}
	u := models.Update{
		Kind: models.UpdateEnded,
		End:  &models.SessionEnd{BookingID: "p1", Reason: models.EndNotFoundTimeout, Status: models.StatusNotFoundTimeout},
	}

	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			var m messages.SessionEnded
			if err := json.Unmarshal(msgs[0].Value, &m); err != nil {
				return false
			}
			return msgs[0].Topic == "booking.ends" && m.Retryable && m.Reason == "not_found_timeout"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.HandleUpdate(context.Background(), v, u))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestHandleUpdate_DisabledTopicSkipped() {
	v := tracker.View{Booking: models.Booking{ID: "p1"}}
	u := models.Update{
		Kind:     models.UpdateLocation,
		Location: &models.AgentLocation{BookingID: "p1", Point: models.Point{Lat: 1, Lng: 2}},
	}
	s.Require().NoError(s.p.HandleUpdate(context.Background(), v, u))
	s.wm.AssertNotCalled(s.T(), "WriteMessages", mock.Anything, mock.Anything)
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
