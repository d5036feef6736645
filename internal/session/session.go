// Package session owns one signed-in account's realtime lifecycle: the
// REST client, the role feed, notification polling and negotiations.
package session

import (
	"context"
	"strconv"
	"sync"

	"doerhub-agent/internal/api"
	"doerhub-agent/internal/bus"
	"doerhub-agent/internal/common/config"
	"doerhub-agent/internal/common/database"
	"doerhub-agent/internal/common/errors"
	"doerhub-agent/internal/common/logger"
	"doerhub-agent/internal/common/validation"
	"doerhub-agent/internal/models"
	"doerhub-agent/internal/negotiation"
	"doerhub-agent/internal/notify"
	"doerhub-agent/internal/realtime"
)

// At most one session runs per process.
var (
	activeMu sync.Mutex
	active   bool
)

// Session is one signed-in account with its feed channel open and its
// notification reconciler running.
type Session struct {
	cfg *config.Config
	api *api.Client
	rt  *realtime.Manager
	rec *notify.Reconciler
	bus *bus.Bus
	log logger.Logger

	profile    models.Profile
	providerID int64
	feed       realtime.Channel

	mu        sync.Mutex
	ignored   map[int64]struct{}
	closeOnce sync.Once
	closed    bool
}

// Open signs in, resolves the feed identity for the configured role,
// opens the feed channel and starts notification polling. Only one
// session may be open per process.
func Open(ctx context.Context, cfg *config.Config, b *bus.Bus, log logger.Logger) (*Session, error) {
	activeMu.Lock()
	if active {
		activeMu.Unlock()
		return nil, errors.NewInvalidStateError("open", "session already active")
	}
	active = true
	activeMu.Unlock()

	s, err := open(ctx, cfg, b, log)
	if err != nil {
		activeMu.Lock()
		active = false
		activeMu.Unlock()
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, cfg *config.Config, b *bus.Bus, log logger.Logger) (*Session, error) {
	client := api.NewClient(cfg.Backend.BaseURL, config.GetDuration(cfg.Backend.Timeout), log)

	if _, err := client.Login(ctx, models.Credentials{
		Username: cfg.Credentials.Username,
		Password: cfg.Credentials.Password,
	}); err != nil {
		return nil, err
	}

	profile, err := client.Profile(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		api:     client,
		bus:     b,
		log:     log.WithFields(map[string]interface{}{"user": profile.Username}),
		profile: *profile,
		ignored: make(map[int64]struct{}),
	}

	s.rt = realtime.NewManager(realtime.Options{
		BaseURL:          cfg.Realtime.BaseURL,
		Token:            client.AccessToken,
		HandshakeTimeout: config.GetDuration(cfg.Realtime.HandshakeTimeout),
		ReconnectDelay:   config.GetDuration(cfg.Realtime.ReconnectDelay),
	}, b, log)

	// Provider feeds are keyed by provider id, not user id.
	if cfg.Credentials.Role == "provider" {
		pp, perr := client.ProviderProfile(ctx)
		if perr != nil {
			return nil, perr
		}
		s.providerID = pp.ID
		s.feed = realtime.ProviderFeed(strconv.FormatInt(pp.ID, 10))
	} else {
		s.feed = realtime.UserFeed(strconv.FormatInt(profile.ID, 10))
	}

	if err := s.rt.Open(s.feed); err != nil {
		return nil, err
	}

	store, serr := newStore(cfg)
	if serr != nil {
		s.rt.CloseAll()
		return nil, serr
	}
	s.rec = notify.NewReconciler(client, store, b, log, config.GetDuration(cfg.Notify.PollInterval))
	s.rec.Start(ctx)

	s.log.Info("session opened", map[string]interface{}{
		"role": cfg.Credentials.Role,
		"feed": s.feed.Key(),
	})
	return s, nil
}

func newStore(cfg *config.Config) (notify.Store, error) {
	if !cfg.Redis.Enabled {
		return notify.NewMemoryStore(), nil
	}
	rc, err := database.NewRedis(cfg.Redis)
	if err != nil {
		return nil, err
	}
	return notify.NewRedisStore(rc.GetClient()), nil
}

// Close stops polling, tears down every channel and signs out. Closing
// twice is a no-op.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.rec.Stop()
		s.rt.CloseAll()
		if err := s.api.Logout(ctx); err != nil {
			s.log.Warn("logout failed", map[string]interface{}{"error": err.Error()})
		}

		activeMu.Lock()
		active = false
		activeMu.Unlock()

		s.log.Info("session closed", nil)
	})
}

// Profile returns the signed-in account.
func (s *Session) Profile() models.Profile {
	return s.profile
}

// ProviderID returns the provider id, 0 for user sessions.
func (s *Session) ProviderID() int64 {
	return s.providerID
}

// Feed returns the role feed channel.
func (s *Session) Feed() realtime.Channel {
	return s.feed
}

// API exposes the REST client for browse operations.
func (s *Session) API() *api.Client {
	return s.api
}

// Realtime exposes the connection manager.
func (s *Session) Realtime() *realtime.Manager {
	return s.rt
}

// ==========================
// Notifications
// ==========================

func (s *Session) MarkRead(ctx context.Context, id int64) {
	s.rec.MarkRead(ctx, id)
}

func (s *Session) MarkAllRead(ctx context.Context) {
	s.rec.MarkAllRead(ctx)
}

// ==========================
// Negotiation (user role)
// ==========================

// RequestService submits a service request and returns its coordinator,
// already in the awaiting state.
func (s *Session) RequestService(ctx context.Context, req models.CreateServiceRequest) (*negotiation.Coordinator, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	c := negotiation.NewCoordinator(s.api, s.rt, s.bus, s.log,
		config.GetDuration(s.cfg.Negotiation.Deadline))
	if _, err := c.Begin(ctx, req); err != nil {
		return nil, err
	}
	return c, nil
}

// ==========================
// Provider-side operations
// ==========================

// IncomingRequests lists pending requests, minus locally ignored ones.
func (s *Session) IncomingRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	list, err := s.api.IncomingRequests(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := list[:0]
	for _, sr := range list {
		if _, skip := s.ignored[sr.ID]; !skip {
			out = append(out, sr)
		}
	}
	return out, nil
}

// Ignore hides a pending request from this session's listing. Nothing
// is sent to the backend; the requester keeps waiting out the deadline.
func (s *Session) Ignore(requestID int64) {
	s.mu.Lock()
	s.ignored[requestID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) AcceptRequest(ctx context.Context, id int64) error {
	return s.api.AcceptServiceRequest(ctx, id)
}

func (s *Session) RejectRequest(ctx context.Context, id int64) error {
	return s.api.RejectServiceRequest(ctx, id)
}

// ==========================
// Chat
// ==========================

// OpenChat ensures the chat room for a service request exists and opens
// its channel.
func (s *Session) OpenChat(ctx context.Context, serviceRequestID int64) (realtime.Channel, error) {
	if err := s.ensureOpen(); err != nil {
		return realtime.Channel{}, err
	}
	room, err := s.api.StartChat(ctx, serviceRequestID)
	if err != nil {
		return realtime.Channel{}, err
	}
	ch := realtime.ChatRoom(strconv.FormatInt(room.ID, 10))
	if err := s.rt.Open(ch); err != nil {
		return realtime.Channel{}, err
	}
	return ch, nil
}

// SendChat validates and sends one message into an open chat room.
func (s *Session) SendChat(roomID int64, message string) error {
	payload := map[string]interface{}{
		"type":    realtime.MsgChatMessage,
		"message": message,
	}
	if err := validation.ValidateChatMessage(payload); err != nil {
		return err
	}
	return s.rt.Send(realtime.ChatRoom(strconv.FormatInt(roomID, 10)), payload)
}

// CloseChat shuts the room's channel down.
func (s *Session) CloseChat(roomID int64) {
	s.rt.Close(realtime.ChatRoom(strconv.FormatInt(roomID, 10)))
}

func (s *Session) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewInvalidStateError("session operation", "closed")
	}
	return nil
}
