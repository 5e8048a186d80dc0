package supervisor

import (
	"testing"
	"time"

	supervisormocks "github.com/BearBump/RideTrack/internal/services/supervisor/mocks"
	"github.com/stretchr/testify/suite"
)

type RetrySuite struct {
	suite.Suite
}

func (s *RetrySuite) TestDelay_Ladder() {
	p := NewRetryPolicy(RetryConfig{}, 10*time.Second, nil)
	s.Equal(10*time.Second, p.Delay(0))
	s.Equal(10*time.Second, p.Delay(1))
	s.Equal(15*time.Second, p.Delay(2))
	s.Equal(30*time.Second, p.Delay(3))
	s.Equal(60*time.Second, p.Delay(4))
	s.Equal(60*time.Second, p.Delay(100))
}

func (s *RetrySuite) TestDelay_NeverBelowInterval() {
	p := NewRetryPolicy(RetryConfig{Backoff1: time.Second, Backoff2: 2 * time.Second}, 12*time.Second, nil)
	s.Equal(12*time.Second, p.Delay(1))
	s.Equal(12*time.Second, p.Delay(2))
	s.Equal(30*time.Second, p.Delay(3))
}

func (s *RetrySuite) TestDelay_JitterUsesRand() {
	m := supervisormocks.NewRand(s.T())
	m.On("Intn", 6).Return(4).Once()

	p := NewRetryPolicy(RetryConfig{Jitter: 5 * time.Second}, time.Second, m)
	s.Equal(19*time.Second, p.Delay(2))
}

func (s *RetrySuite) TestDelay_NoJitterNoRand() {
	m := supervisormocks.NewRand(s.T())
	p := NewRetryPolicy(DefaultRetryConfig(), time.Second, m)
	s.Equal(30*time.Second, p.Delay(3))
}

func TestRetrySuite(t *testing.T) {
	suite.Run(t, new(RetrySuite))
}
