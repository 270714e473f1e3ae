package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"medchat/backend/internal/config"
	"medchat/backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotRetryable = errors.New("only failed messages can be retried")
	ErrNotConnected = errors.New("not connected")
)

// Transport carries client commands to the server. Send must not block on
// the network; implementations queue and report only immediate failures.
type Transport interface {
	Send(ctx context.Context, ev models.Event) error
}

// Pipeline turns a composed message into an optimistic "sending" entry,
// transmits it, and reconciles it with the server's acknowledgement. A
// message that is neither acknowledged nor rejected within the timeout fails.
type Pipeline struct {
	state     *State
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger

	session string
	counter atomic.Uint64

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewPipeline(state *State, transport Transport, timeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = config.SendTimeout
	}
	return &Pipeline{
		state:     state,
		transport: transport,
		timeout:   timeout,
		logger:    logger,
		session:   uuid.NewString()[:8],
		timers:    make(map[string]*time.Timer),
	}
}

func (p *Pipeline) nextTempID() string {
	return fmt.Sprintf("%s%s-%d", config.TempIDPrefix, p.session, p.counter.Add(1))
}

// Send queues a text message and returns its temporary ID. Blank content is
// ignored and yields "".
func (p *Pipeline) Send(ctx context.Context, roomID, content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	return p.submit(ctx, "", models.ChatMessage{RoomID: roomID, Kind: models.KindText, Content: content})
}

// SendFile queues a file message referencing an already uploaded attachment.
func (p *Pipeline) SendFile(ctx context.Context, roomID string, file models.FileRef) string {
	if strings.TrimSpace(file.URL) == "" {
		return ""
	}
	return p.submit(ctx, "", models.ChatMessage{RoomID: roomID, Kind: models.KindFile, File: &file})
}

// Retry sends a failed message again under a new temporary ID. The new entry
// takes the failed one's place, so there is never more than one live copy.
func (p *Pipeline) Retry(ctx context.Context, id string) (string, error) {
	m, ok := p.state.Message(id)
	if !ok || m.Status != models.StatusFailed {
		return "", ErrNotRetryable
	}
	body := models.ChatMessage{RoomID: m.RoomID, Kind: m.Kind, Content: m.Content, File: m.File}
	tempID := p.submit(ctx, id, body)
	if tempID == "" {
		return "", ErrNotRetryable
	}
	return tempID, nil
}

func (p *Pipeline) submit(ctx context.Context, replaces string, body models.ChatMessage) string {
	self := p.state.Self()
	tempID := p.nextTempID()

	m := &Message{
		TempID: tempID,
		ChatMessage: models.ChatMessage{
			RoomID:     body.RoomID,
			SenderID:   self.UserID,
			SenderRole: self.Role,
			Kind:       body.Kind,
			Content:    body.Content,
			File:       body.File,
			CreatedAt:  time.Now().UTC(),
			Status:     models.StatusSending,
		},
	}
	if replaces != "" {
		if !p.state.replaceFailed(replaces, m) {
			return ""
		}
	} else {
		p.state.addPending(m)
	}

	p.arm(tempID)

	ev := models.Event{
		Type:    models.CommandMessageSend,
		RoomID:  body.RoomID,
		TempID:  tempID,
		Message: &body,
	}
	if err := p.transport.Send(ctx, ev); err != nil {
		reason := err.Error()
		if errors.Is(err, ErrNotConnected) {
			reason = config.ReasonNotConnected
		}
		p.logger.Warn("transmit failed", zap.String("temp_id", tempID), zap.Error(err))
		p.fail(tempID, reason)
	}
	return tempID
}

func (p *Pipeline) arm(tempID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers[tempID] = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		delete(p.timers, tempID)
		p.mu.Unlock()
		if p.state.fail(tempID, config.ReasonTimeout) {
			p.logger.Warn("message timed out", zap.String("temp_id", tempID))
		}
	})
}

func (p *Pipeline) disarm(tempID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[tempID]; ok {
		t.Stop()
		delete(p.timers, tempID)
	}
}

func (p *Pipeline) fail(tempID, reason string) {
	p.disarm(tempID)
	p.state.fail(tempID, reason)
}

// FailPending fails every message still waiting for an acknowledgement.
func (p *Pipeline) FailPending(reason string) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.timers))
	for id, t := range p.timers {
		t.Stop()
		ids = append(ids, id)
	}
	p.timers = make(map[string]*time.Timer)
	p.mu.Unlock()

	for _, id := range ids {
		p.state.fail(id, reason)
	}
}

// HandleAck reconciles a message:ack. A rejection fails the message with the
// server's reason; an ack for a message that already failed is ignored.
func (p *Pipeline) HandleAck(ev models.Event) {
	p.disarm(ev.TempID)

	if ev.Error != "" {
		p.state.fail(ev.TempID, ev.Error)
		return
	}
	if ev.Message == nil || ev.Message.ID == "" {
		p.logger.Warn("acknowledgement without message", zap.String("temp_id", ev.TempID))
		p.state.fail(ev.TempID, config.ReasonStorage)
		return
	}
	if !p.state.confirm(ev.TempID, *ev.Message) {
		p.logger.Info("ignoring acknowledgement for settled message",
			zap.String("temp_id", ev.TempID), zap.String("message_id", ev.Message.ID))
	}
}

// HandleStatus applies a message:status update for one of the user's messages.
func (p *Pipeline) HandleStatus(ev models.Event) {
	if ev.Message == nil || ev.Message.ID == "" {
		return
	}
	p.state.advance(ev.Message.ID, ev.Status)
}
