// Package notify reconciles the backend's notification feed into
// exactly-once events on the bus.
package notify

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"doerhub-agent/internal/bus"
	"doerhub-agent/internal/common/logger"
	"doerhub-agent/internal/common/metrics"
	"doerhub-agent/internal/models"
)

// Backend is the slice of the REST client the reconciler needs.
type Backend interface {
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// UnreadUpdate is published on every completed poll. Broadcasts are
// excluded from Count but carried alongside for as long as they remain
// unread.
type UnreadUpdate struct {
	Count      int
	Delta      int
	Broadcasts []models.Notification
}

// Reconciler polls the notification feed at a fixed interval and diffs
// it against the previous window. A tick that lands while a fetch is
// still in flight is skipped, never queued.
type Reconciler struct {
	backend  Backend
	store    Store
	bus      *bus.Bus
	log      logger.Logger
	interval time.Duration

	inFlight int32

	mu         sync.Mutex
	prevUnread int
	started    bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewReconciler(backend Backend, store Store, b *bus.Bus, log logger.Logger, interval time.Duration) *Reconciler {
	if interval == 0 {
		interval = 2 * time.Second
	}
	return &Reconciler{
		backend:  backend,
		store:    store,
		bus:      b,
		log:      log,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. Starting twice is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.loop(ctx)
}

// Stop halts the poll loop and waits for it to exit. Stopping twice, or
// stopping a reconciler that never started, is a no-op.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	r.stopOnce.Do(func() {
		close(r.stop)
	})
	if started {
		<-r.done
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Poll(ctx)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll fetches the feed once and publishes the diff. Overlapping calls
// are collapsed: if a fetch is already in flight the call returns
// immediately.
func (r *Reconciler) Poll(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&r.inFlight, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&r.inFlight, 0)

	list, err := r.backend.ListNotifications(ctx)
	if err != nil {
		// A failed fetch leaves the diff baseline untouched.
		r.log.Warn("notification poll failed", map[string]interface{}{"error": err.Error()})
		return
	}

	unread := 0
	var broadcasts []models.Notification
	var fresh []models.Notification

	for _, n := range list {
		if n.IsBroadcast() {
			if !n.IsRead {
				broadcasts = append(broadcasts, n)
			}
			continue
		}
		if n.IsRead {
			continue
		}
		unread++

		seen, serr := r.store.Seen(ctx, n.ID)
		if serr != nil {
			r.log.Warn("read-state lookup failed", map[string]interface{}{
				"id":    n.ID,
				"error": serr.Error(),
			})
			continue
		}
		if !seen {
			fresh = append(fresh, n)
		}
	}

	r.mu.Lock()
	prev := r.prevUnread
	r.prevUnread = unread
	r.mu.Unlock()

	delta := unread - prev
	if delta < 0 {
		delta = 0
	}

	if len(fresh) > 0 {
		// The feed arrives most-recent-first; events fire in creation
		// order.
		sort.Slice(fresh, func(i, j int) bool {
			if fresh[i].CreatedAt.Equal(fresh[j].CreatedAt) {
				return fresh[i].ID < fresh[j].ID
			}
			return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
		})

		ids := make([]int64, len(fresh))
		for i, n := range fresh {
			ids[i] = n.ID
		}
		if serr := r.store.MarkSeen(ctx, ids...); serr != nil {
			r.log.Warn("read-state persist failed", map[string]interface{}{"error": serr.Error()})
		}
		for _, n := range fresh {
			metrics.NotificationsEmitted.WithLabelValues(n.Kind).Inc()
			r.bus.Publish(bus.TopicNotificationNew, n)
		}
	}

	r.bus.Publish(bus.TopicNotificationUnread, UnreadUpdate{
		Count:      unread,
		Delta:      delta,
		Broadcasts: broadcasts,
	})
}

// MarkRead marks one notification read. The local unread baseline is
// adjusted immediately; a backend failure is logged but not rolled back.
func (r *Reconciler) MarkRead(ctx context.Context, id int64) {
	r.mu.Lock()
	if r.prevUnread > 0 {
		r.prevUnread--
	}
	count := r.prevUnread
	r.mu.Unlock()

	r.bus.Publish(bus.TopicNotificationUnread, UnreadUpdate{Count: count})

	if err := r.backend.MarkNotificationRead(ctx, id); err != nil {
		r.log.Warn("mark-read failed", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}
}

// MarkAllRead marks every notification read, with the same optimistic
// local update as MarkRead.
func (r *Reconciler) MarkAllRead(ctx context.Context) {
	r.mu.Lock()
	r.prevUnread = 0
	r.mu.Unlock()

	r.bus.Publish(bus.TopicNotificationUnread, UnreadUpdate{Count: 0})

	if err := r.backend.MarkAllNotificationsRead(ctx); err != nil {
		r.log.Warn("mark-all-read failed", map[string]interface{}{"error": err.Error()})
	}
}
