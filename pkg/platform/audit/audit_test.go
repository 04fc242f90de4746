package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"authguard/pkg/requestcontext"
)

type captureEmitter struct {
	events []Event
	err    error
}

func (c *captureEmitter) Emit(_ context.Context, event Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

type reason string

func (r reason) String() string { return string(r) }

// LoggerSuite tests the audit Logger helper.
//
// Justification: enrichment and field extraction are shared by every guard,
// and emitter failures must not escape.
type LoggerSuite struct {
	suite.Suite
	buf     *bytes.Buffer
	emitter *captureEmitter
	logger  *Logger
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) SetupTest() {
	s.buf = &bytes.Buffer{}
	s.emitter = &captureEmitter{}
	s.logger = NewLogger(slog.New(slog.NewJSONHandler(s.buf, nil)), s.emitter)
}

func (s *LoggerSuite) TestLogEnrichesWithRequestID() {
	ctx := requestcontext.WithRequestID(context.Background(), "req-12345")

	s.logger.Log(ctx, EventAccountLocked, "user_id", "u1", "decision", "denied")

	s.Require().Len(s.emitter.events, 1)
	ev := s.emitter.events[0]
	s.Equal("req-12345", ev.RequestID)
	s.Equal("u1", ev.Subject)
	s.Equal("denied", ev.Decision)
	s.False(ev.Timestamp.IsZero())

	var line map[string]any
	s.Require().NoError(json.Unmarshal(s.buf.Bytes(), &line))
	s.Equal("audit", line["log_type"])
	s.Equal(EventAccountLocked, line["event"])
	s.Equal("req-12345", line["request_id"])
}

func (s *LoggerSuite) TestSubjectFallsBackToIPPrefix() {
	s.logger.Log(context.Background(), EventRateLimitExceeded, "ip_prefix", "203.0.113.0/24", "reason", reason("ip_based"))

	s.Require().Len(s.emitter.events, 1)
	s.Equal("203.0.113.0/24", s.emitter.events[0].Subject)
	s.Equal("ip_based", s.emitter.events[0].Reason)
	s.Empty(s.emitter.events[0].UserID)
}

func (s *LoggerSuite) TestEmitterFailureIsLogged() {
	s.emitter.err = errors.New("sink full")
	s.logger.Log(context.Background(), EventCSRFRejected)
	s.Contains(s.buf.String(), "failed to emit audit event")
}

func (s *LoggerSuite) TestNilLoggerIsNoop() {
	var l *Logger
	s.NotPanics(func() { l.Log(context.Background(), EventAdminUnlock) })
	s.NotPanics(func() { NewLogger(nil, nil).Log(context.Background(), EventAdminUnlock) })
}
