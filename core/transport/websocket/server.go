package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-graph/core"
	"github.com/koscakluka/ema-graph/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const defaultHandshakeTimeout = 10 * time.Second

// Server accepts calls over websocket connections and runs one System per
// call.
type Server struct {
	upgrader         gws.Upgrader
	onCall           CallHandler
	preCall          PreCallHandler
	systemOptions    []orchestration.SystemOption
	customKinds      []events.Kind
	handshakeTimeout time.Duration
}

type ServerOption func(*Server)

func WithPreCallHandler(handler PreCallHandler) ServerOption {
	return func(s *Server) {
		s.preCall = handler
	}
}

// WithSystemOptions applies options to every System the server creates.
func WithSystemOptions(opts ...orchestration.SystemOption) ServerOption {
	return func(s *Server) {
		s.systemOptions = append(s.systemOptions, opts...)
	}
}

// WithCustomKinds accepts custom event kinds inbound and declares them on
// every System.
func WithCustomKinds(kinds ...events.Kind) ServerOption {
	return func(s *Server) {
		s.customKinds = append(s.customKinds, kinds...)
	}
}

// WithHandshakeTimeout bounds the wait for the call request frame.
func WithHandshakeTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.handshakeTimeout = timeout
	}
}

func WithCheckOrigin(check func(r *http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

func NewServer(onCall CallHandler, opts ...ServerOption) *Server {
	s := &Server{
		onCall:           onCall,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade connection", slog.Any("error", err))
		return
	}
	defer conn.Close()

	if err := s.serve(r.Context(), conn); err != nil {
		logger.Error("call failed", slog.Any("error", err))
	}
}

func (s *Server) serve(ctx context.Context, conn *gws.Conn) error {
	ctx, span := tracer.Start(ctx, "websocket call")
	defer span.End()

	codec := NewCodec(s.customKinds...)
	sess := newSession(conn, codec)

	call, err := s.handshake(ctx, sess)
	if err != nil {
		callCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sess.writeFrame(frameError, errorData{Message: err.Error()})
		sess.close()
		return err
	}
	if call == nil {
		callCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected")))
		sess.close()
		return nil
	}
	span.SetAttributes(attribute.String("call.id", call.CallID))
	callCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "accepted")))

	opts := append([]orchestration.SystemOption{
		orchestration.WithID(call.CallID),
		orchestration.WithTransport(sess),
		orchestration.WithEventKinds(s.customKinds...),
	}, s.systemOptions...)
	system := orchestration.New(opts...)

	logger.Info("call started", slog.String("call.id", call.CallID), slog.String("from", call.From), slog.String("to", call.To))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer system.Shutdown(context.WithoutCancel(ctx))
		return sess.readLoop(groupCtx, system)
	})
	group.Go(func() error {
		if err := s.onCall(groupCtx, system, *call); err != nil {
			system.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("call handler: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-system.Done():
		case <-groupCtx.Done():
			system.Shutdown(context.WithoutCancel(ctx))
		}
		sess.close()
		return nil
	})

	err = group.Wait()
	logger.Info("call ended", slog.String("call.id", call.CallID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// handshake reads the call request and runs the pre-call handler. A nil
// request means the call was rejected.
func (s *Server) handshake(ctx context.Context, sess *session) (*CallRequest, error) {
	ctx, span := tracer.Start(ctx, "call handshake")
	defer span.End()

	sess.conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	defer sess.conn.SetReadDeadline(time.Time{})

	var frame Frame
	if err := sess.conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("read call request: %w", err)
	}
	if frame.Type != frameCallRequest {
		return nil, fmt.Errorf("expected %q frame, got %q", frameCallRequest, frame.Type)
	}

	var call CallRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &call); err != nil {
			return nil, fmt.Errorf("decode call request: %w", err)
		}
	}
	if call.CallID == "" {
		call.CallID = uuid.NewString()
	}
	if call.Metadata == nil {
		call.Metadata = map[string]any{}
	}

	var config map[string]any
	if s.preCall != nil {
		result, err := s.preCall(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("pre-call handler: %w", err)
		}
		if result == nil {
			logger.Info("call rejected", slog.String("call.id", call.CallID), slog.String("to", call.To))
			if err := sess.writeFrame(frameCallRejected, callRejected{CallID: call.CallID, Reason: "rejected by pre-call handler"}); err != nil && !errors.Is(err, errSessionClosed) {
				return nil, err
			}
			return nil, nil
		}
		maps.Copy(call.Metadata, result.Metadata)
		config = result.Config
	}

	if err := sess.writeFrame(frameCallAccepted, callAccepted{CallID: call.CallID, Config: config}); err != nil {
		return nil, err
	}
	return &call, nil
}
