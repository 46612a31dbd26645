package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-graph/core"
	"github.com/koscakluka/ema-graph/core/events"
)

const writeTimeout = 5 * time.Second

var errSessionClosed = errors.New("session closed")

// session is one connected caller. It is the transport of the call's System.
type session struct {
	conn  *gws.Conn
	codec *Codec

	writeMu   sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newSession(conn *gws.Conn, codec *Codec) *session {
	return &session{conn: conn, codec: codec}
}

// Send writes an outbound event.
func (s *session) Send(_ context.Context, event events.Event) error {
	frame, err := s.codec.Encode(event)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *session) writeFrame(frameType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %q frame: %w", frameType, err)
	}
	return s.write(Frame{Type: frameType, Data: raw})
}

func (s *session) write(frame Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errSessionClosed
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %q frame: %w", frame.Type, err)
	}
	return nil
}

// readLoop publishes inbound events until the caller disconnects or the
// session is closed.
func (s *session) readLoop(ctx context.Context, system *orchestration.System) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) || s.isClosed() {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if messageType != gws.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reportInvalidFrame(err)
			continue
		}
		event, err := s.codec.Decode(frame)
		if err != nil {
			s.reportInvalidFrame(err)
			continue
		}

		if err := system.Publish(ctx, event); err != nil {
			if errors.Is(err, orchestration.ErrShutdown) {
				return nil
			}
			return fmt.Errorf("publish %q: %w", event.Kind(), err)
		}
	}
}

func (s *session) reportInvalidFrame(err error) {
	logger.Warn("invalid frame", slog.Any("error", err))
	if err := s.writeFrame(frameError, errorData{Message: err.Error()}); err != nil && !errors.Is(err, errSessionClosed) {
		logger.Warn("failed to report invalid frame", slog.Any("error", err))
	}
}

func (s *session) isClosed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

// close sends a close frame and closes the connection, which also ends the
// read loop.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		message := gws.FormatCloseMessage(gws.CloseNormalClosure, "call ended")
		s.conn.WriteControl(gws.CloseMessage, message, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}
