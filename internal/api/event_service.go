package api

import (
	"context"
	"encoding/json"

	"github.com/matheus3301/ims/internal/bus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const EventServiceName = "ims.v1.EventService"

// watchBuffer bounds the backlog of a slow watcher; the bus drops past it.
const watchBuffer = 256

// EventStream is the server side of a WatchEvents stream.
type EventStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

// EventServer is the server side of EventService.
type EventServer interface {
	WatchEvents(*WatchRequest, EventStream) error
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: EventServiceName,
	HandlerType: (*EventServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventServer).WatchEvents(req, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(env *EventEnvelope) error {
	return s.SendMsg(env)
}

// EventService streams bus events to watchers.
type EventService struct {
	sessionName string
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewEventService creates a new event service.
func NewEventService(sessionName string, b *bus.Bus, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{sessionName: sessionName, bus: b, logger: logger}
}

// WatchEvents sends every event whose kind starts with req.Prefix until the
// client goes away.
func (s *EventService) WatchEvents(req *WatchRequest, stream EventStream) error {
	sub := s.bus.Subscribe(req.Prefix, watchBuffer)
	defer sub.Close()

	ctx := stream.Context()
	var dropped uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			if n := sub.Dropped(); n > dropped {
				s.logger.Warn("watcher too slow, events dropped", zap.Uint64("dropped", n-dropped))
				dropped = n
			}
			if err := stream.Send(s.envelope(evt)); err != nil {
				return err
			}
		}
	}
}

func (s *EventService) envelope(evt bus.Event) *EventEnvelope {
	env := &EventEnvelope{
		EventID:          evt.ID,
		Session:          s.sessionName,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
		Kind:             evt.Kind,
	}
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			s.logger.Warn("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
		} else {
			env.Payload = data
		}
	}
	return env
}
