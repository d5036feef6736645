// Package negotiation drives one service request through its bounded
// accept/reject window.
package negotiation

import (
	"context"
	"strconv"
	"sync"
	"time"

	"doerhub-agent/internal/bus"
	"doerhub-agent/internal/common/errors"
	"doerhub-agent/internal/common/logger"
	"doerhub-agent/internal/common/metrics"
	"doerhub-agent/internal/models"
	"doerhub-agent/internal/realtime"
)

// State is the negotiation lifecycle state. Every state after
// AwaitingResponse is terminal.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
	StateAccepted         State = "accepted"
	StateRejected         State = "rejected"
	StateTimedOut         State = "timed_out"
	StateCancelled        State = "cancelled"
)

// Event is published on the negotiation's topic at every transition.
type Event struct {
	RequestID  int64
	State      State
	ChatRoomID int64
}

// Backend is the slice of the REST client the coordinator needs.
type Backend interface {
	CreateServiceRequest(ctx context.Context, req models.CreateServiceRequest) (*models.ServiceRequest, error)
	CancelServiceRequest(ctx context.Context, id int64) error
}

// Transport is the slice of the connection manager the coordinator needs.
type Transport interface {
	Open(ch realtime.Channel) error
	Close(ch realtime.Channel)
	SubscribeMessages(ch realtime.Channel, h func(realtime.Envelope)) func()
}

// Coordinator owns a single negotiation: it submits the request, listens
// on the request's channel for the provider's answer, and enforces the
// response deadline. A dropped socket while awaiting is not a failure;
// the transport reconnects underneath.
type Coordinator struct {
	backend  Backend
	rt       Transport
	bus      *bus.Bus
	log      logger.Logger
	deadline time.Duration

	mu         sync.Mutex
	state      State
	requestID  int64
	chatRoomID int64
	timer      *time.Timer
	unsub      func()
}

func NewCoordinator(backend Backend, rt Transport, b *bus.Bus, log logger.Logger, deadline time.Duration) *Coordinator {
	if deadline == 0 {
		deadline = 180 * time.Second
	}
	return &Coordinator{
		backend:  backend,
		rt:       rt,
		bus:      b,
		log:      log,
		deadline: deadline,
		state:    StateIdle,
	}
}

// State reports the current negotiation state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestID reports the id of the submitted request, 0 before Begin.
func (c *Coordinator) RequestID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

// ChatRoomID reports the room handed off on acceptance, 0 otherwise.
func (c *Coordinator) ChatRoomID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatRoomID
}

// Begin submits the service request and starts the response window. It
// is only valid from Idle.
func (c *Coordinator) Begin(ctx context.Context, req models.CreateServiceRequest) (int64, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return 0, errors.NewInvalidStateError("begin", string(state))
	}
	c.mu.Unlock()

	sr, err := c.backend.CreateServiceRequest(ctx, req)
	if err != nil {
		return 0, err
	}

	ch := realtime.Negotiation(strconv.FormatInt(sr.ID, 10))
	unsub := c.rt.SubscribeMessages(ch, c.onEnvelope)
	if oerr := c.rt.Open(ch); oerr != nil {
		// The transport keeps redialing failed channels; the answer
		// arrives once a dial succeeds.
		c.log.Warn("negotiation channel open failed", map[string]interface{}{
			"request_id": sr.ID,
			"error":      oerr.Error(),
		})
	}

	c.mu.Lock()
	if c.state != StateIdle {
		// Lost a race with a concurrent Begin.
		c.mu.Unlock()
		unsub()
		c.rt.Close(ch)
		return 0, errors.NewInvalidStateError("begin", string(c.State()))
	}
	c.state = StateAwaitingResponse
	c.requestID = sr.ID
	c.unsub = unsub
	c.timer = time.AfterFunc(c.deadline, c.onDeadline)
	c.mu.Unlock()

	c.publish(Event{RequestID: sr.ID, State: StateAwaitingResponse})
	c.log.Info("negotiation started", map[string]interface{}{
		"request_id": sr.ID,
		"deadline":   c.deadline.String(),
	})
	return sr.ID, nil
}

// Cancel withdraws the pending request. Cancelling a negotiation that
// is not awaiting a response is a no-op.
func (c *Coordinator) Cancel(ctx context.Context) {
	id, ok := c.finish(StateCancelled, 0)
	if !ok {
		return
	}
	if err := c.backend.CancelServiceRequest(ctx, id); err != nil {
		c.log.Warn("cancel request failed on backend", map[string]interface{}{
			"request_id": id,
			"error":      err.Error(),
		})
	}
}

func (c *Coordinator) onDeadline() {
	if id, ok := c.finish(StateTimedOut, 0); ok {
		c.log.Info("negotiation timed out", map[string]interface{}{"request_id": id})
	}
}

func (c *Coordinator) onEnvelope(env realtime.Envelope) {
	switch env.Type {
	case realtime.MsgRequestAccepted:
		var body struct {
			ChatRoomID int64 `json:"chatroom_id"`
		}
		if err := env.Decode(&body); err != nil {
			c.log.Warn("unparseable accept envelope", map[string]interface{}{"error": err.Error()})
			return
		}
		if id, ok := c.finish(StateAccepted, body.ChatRoomID); ok {
			c.log.Info("request accepted", map[string]interface{}{
				"request_id":   id,
				"chat_room_id": body.ChatRoomID,
			})
		}
	case realtime.MsgRequestRejected:
		if id, ok := c.finish(StateRejected, 0); ok {
			c.log.Info("request rejected", map[string]interface{}{"request_id": id})
		}
	}
}

// finish performs the terminal transition. It fires at most once: the
// deadline timer is stopped inside the same critical section that flips
// the state, so a late timer or duplicate envelope is a no-op.
func (c *Coordinator) finish(to State, chatRoomID int64) (int64, bool) {
	c.mu.Lock()
	if c.state != StateAwaitingResponse {
		c.mu.Unlock()
		return 0, false
	}
	c.state = to
	c.chatRoomID = chatRoomID
	id := c.requestID
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.rt.Close(realtime.Negotiation(strconv.FormatInt(id, 10)))

	metrics.NegotiationOutcomes.WithLabelValues(string(to)).Inc()
	c.publish(Event{RequestID: id, State: to, ChatRoomID: chatRoomID})
	return id, true
}

func (c *Coordinator) publish(ev Event) {
	c.bus.Publish(bus.TopicNegotiation(strconv.FormatInt(ev.RequestID, 10)), ev)
}
