package chatclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"medchat/backend/internal/config"
	"medchat/backend/internal/models"

	"go.uber.org/zap"
)

var ErrOutboundFull = errors.New("outbound queue full")

// Options tune the client timings. Zero values take the defaults from config.
type Options struct {
	SendTimeout      time.Duration
	TypingIdle       time.Duration
	TypingExpiry     time.Duration
	ReconnectBackoff time.Duration
	OutboundBuffer   int
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = config.SendTimeout
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = config.TypingIdleTimeout
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = config.TypingExpiry
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = config.ReconnectBackoff
	}
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = 64
	}
	return o
}

// Session binds the State and Pipeline of one signed-in user to the realtime
// connection: it dispatches inbound events, keeps reconnecting, resyncs from
// server snapshots after every reconnect and produces typing signals.
type Session struct {
	State    *State
	Pipeline *Pipeline
	API      *APIClient

	dialer Dialer
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	conn     Conn
	outbound chan models.Event

	typingRoom  string
	typingTimer *time.Timer

	loaded map[string]bool
}

// NewSession builds a session for self. api may be nil, in which case history
// is never fetched.
func NewSession(self models.Participant, dialer Dialer, api *APIClient, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	s := &Session{
		State:  NewState(self, opts.TypingExpiry),
		API:    api,
		dialer: dialer,
		opts:   opts,
		logger: logger.With(zap.String("user_id", self.UserID)),
		loaded: make(map[string]bool),
	}
	s.Pipeline = NewPipeline(s.State, s, opts.SendTimeout, s.logger)
	return s
}

// Send queues ev on the current connection. It implements Transport for the
// pipeline and never blocks.
func (s *Session) Send(ctx context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	select {
	case s.outbound <- ev:
		return nil
	default:
		return ErrOutboundFull
	}
}

// Run keeps the session connected until ctx is cancelled, waiting the
// reconnect backoff between attempts.
func (s *Session) Run(ctx context.Context) error {
	for {
		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			s.logger.Warn("connect failed", zap.Error(err))
		} else {
			s.serve(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.ReconnectBackoff):
		}
	}
}

func (s *Session) serve(ctx context.Context, conn Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := s.attach(conn)
	go s.writeLoop(connCtx, conn, out)

	s.logger.Info("connected")
	if active := s.State.ActiveRoom(); active != "" && s.API != nil {
		go func() {
			if err := s.LoadHistory(connCtx, active); err != nil {
				s.logger.Warn("history resync failed", zap.String("room_id", active), zap.Error(err))
			}
		}()
	}

	err := conn.ReadLoop(connCtx, s.Dispatch)
	s.detach(conn)
	s.logger.Info("disconnected", zap.Error(err))
}

func (s *Session) attach(conn Conn) chan models.Event {
	s.mu.Lock()
	out := make(chan models.Event, s.opts.OutboundBuffer)
	s.conn = conn
	s.outbound = out
	s.mu.Unlock()

	s.State.SetConnected(true)
	return out
}

func (s *Session) detach(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		close(s.outbound)
		s.outbound = nil
	}
	s.typingRoom = ""
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	conn.Close()
	s.State.SetConnected(false)
	s.Pipeline.FailPending(config.ReasonConnectionLost)
}

func (s *Session) writeLoop(ctx context.Context, conn Conn, out <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-out:
			if !ok {
				return
			}
			if err := conn.Send(ctx, ev); err != nil {
				s.logger.Warn("write failed", zap.String("type", ev.Type), zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// Dispatch applies one inbound event to the state.
func (s *Session) Dispatch(ev models.Event) {
	switch ev.Type {
	case models.EventMessageNew:
		if ev.Message != nil && s.State.ReceiveMessage(*ev.Message) {
			s.sendReadMark(ev.Message.RoomID)
		}
	case models.EventMessageAck:
		s.Pipeline.HandleAck(ev)
	case models.EventMessageStatus:
		s.Pipeline.HandleStatus(ev)
	case models.EventPresenceUpdate:
		if ev.Presence != nil {
			s.State.ApplyPresence(*ev.Presence)
		}
	case models.EventPresenceSnapshot:
		online := map[string]bool{}
		if ev.Presence != nil {
			online = ev.Presence.OnlineUsers
		}
		s.State.ApplyPresenceSnapshot(online)
	case models.EventRoomsSnapshot:
		if s.State.ApplyRoomsSnapshot(ev.Rooms) {
			s.sendReadMark(s.State.ActiveRoom())
		}
	case models.EventTypingUpdate:
		if ev.Typing != nil {
			s.State.SetTyping(ev.RoomID, ev.Typing.UserID, ev.Typing.IsTyping)
		}
	case models.EventReadReceipt:
		if ev.Receipt != nil {
			s.State.ApplyReceipt(ev.RoomID, *ev.Receipt)
		}
	case models.EventError:
		s.logger.Warn("server error", zap.String("error", ev.Error))
	default:
		s.logger.Debug("ignoring event", zap.String("type", ev.Type))
	}
}

func (s *Session) sendReadMark(roomID string) {
	err := s.Send(context.Background(), models.Event{Type: models.CommandReadMark, RoomID: roomID})
	if err != nil {
		s.logger.Debug("read mark not sent", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (s *Session) sendTyping(roomID string, isTyping bool) {
	err := s.Send(context.Background(), models.Event{
		Type:   models.CommandTypingSet,
		RoomID: roomID,
		Typing: &models.Typing{IsTyping: isTyping},
	})
	if err != nil {
		s.logger.Debug("typing signal not sent", zap.String("room_id", roomID), zap.Error(err))
	}
}

// OpenRoom makes the room active, marks it read and loads its latest history
// the first time it is opened.
func (s *Session) OpenRoom(ctx context.Context, roomID string) error {
	s.State.OpenRoom(roomID)
	s.sendReadMark(roomID)

	s.mu.Lock()
	loaded := s.loaded[roomID]
	s.mu.Unlock()
	if loaded || s.API == nil {
		return nil
	}
	return s.LoadHistory(ctx, roomID)
}

func (s *Session) CloseRoom() {
	if active := s.State.ActiveRoom(); active != "" {
		s.StopTyping(active)
	}
	s.State.CloseRoom()
}

// LoadHistory fetches the latest page of a room and merges it.
func (s *Session) LoadHistory(ctx context.Context, roomID string) error {
	msgs, _, err := s.API.History(ctx, roomID, 0, 0)
	if err != nil {
		return err
	}
	s.State.MergeHistory(roomID, msgs)

	s.mu.Lock()
	s.loaded[roomID] = true
	s.mu.Unlock()
	return nil
}

// LoadOlder fetches the page before the oldest loaded message and reports
// whether the server has more.
func (s *Session) LoadOlder(ctx context.Context, roomID string) (bool, error) {
	if s.API == nil {
		return false, nil
	}
	msgs, more, err := s.API.History(ctx, roomID, s.State.OldestSeq(roomID), 0)
	if err != nil {
		return false, err
	}
	s.State.MergeHistory(roomID, msgs)
	return more, nil
}

// Type records a keystroke in roomID. The typing signal goes out once per
// burst; a stop signal follows after the idle interval.
func (s *Session) Type(roomID string) {
	s.mu.Lock()
	prev := s.typingRoom
	start := prev != roomID
	s.typingRoom = roomID
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.opts.TypingIdle, func() { s.StopTyping(roomID) })
	s.mu.Unlock()

	if start && prev != "" {
		s.sendTyping(prev, false)
	}
	if start {
		s.sendTyping(roomID, true)
	}
}

// StopTyping ends the current typing burst in roomID, if any.
func (s *Session) StopTyping(roomID string) {
	s.mu.Lock()
	if s.typingRoom != roomID {
		s.mu.Unlock()
		return
	}
	s.typingRoom = ""
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	s.sendTyping(roomID, false)
}

// SendText stops typing in the room and hands the text to the pipeline.
func (s *Session) SendText(ctx context.Context, roomID, content string) string {
	tempID := s.Pipeline.Send(ctx, roomID, content)
	if tempID != "" {
		s.StopTyping(roomID)
	}
	return tempID
}

func (s *Session) SendFile(ctx context.Context, roomID string, file models.FileRef) string {
	tempID := s.Pipeline.SendFile(ctx, roomID, file)
	if tempID != "" {
		s.StopTyping(roomID)
	}
	return tempID
}

func (s *Session) Retry(ctx context.Context, id string) (string, error) {
	return s.Pipeline.Retry(ctx, id)
}
