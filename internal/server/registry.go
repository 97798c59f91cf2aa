package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/quizlive/internal/presence"
	"github.com/npezzotti/quizlive/internal/stats"
	"github.com/rs/zerolog"
)

const (
	storeTimeout = 2 * time.Second

	MetricActiveClients = "NumActiveClients"
)

// Registry tracks the connections held by this process. Presence store
// writes for a user are ordered by storeMu so a disconnect cannot undo a
// concurrent reconnect.
type Registry struct {
	log     zerolog.Logger
	store   presence.Store
	stats   stats.StatsProvider
	storeMu sync.Mutex
	// subscribed is guarded by storeMu
	subscribed map[string]struct{}
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	users      map[string]map[*Client]struct{}
}

func NewRegistry(store presence.Store, sp stats.StatsProvider, log zerolog.Logger) *Registry {
	sp.RegisterMetric(MetricActiveClients)

	return &Registry{
		log:        log,
		store:      store,
		stats:      sp,
		subscribed: make(map[string]struct{}),
		clients:    make(map[*Client]struct{}),
		users:      make(map[string]map[*Client]struct{}),
	}
}

// Add registers c and marks its user online. Store failures are logged and
// the connection is kept.
func (r *Registry) Add(c *Client) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.addClient(c)
	r.stats.Incr(MetricActiveClients)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	r.ensureSubscribed(ctx, c.user.Id)

	if err := r.store.AddConnection(ctx, c.user.Id, c.user.EmailAddress); err != nil {
		r.log.Error().Err(err).Str("user_id", c.user.Id).Msg("failed to record presence")
	}
}

// Remove unregisters c. The user's presence record and subscription are
// dropped with their last local connection.
func (r *Registry) Remove(c *Client) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	found, last := r.removeClient(c)
	if !found {
		return
	}
	r.stats.Decr(MetricActiveClients)

	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, ok := r.subscribed[c.user.Id]; ok {
		delete(r.subscribed, c.user.Id)
		if err := r.store.Unsubscribe(ctx, c.user.Id); err != nil {
			r.log.Error().Err(err).Str("user_id", c.user.Id).Msg("failed to unsubscribe from notifications")
		}
	}

	if err := r.store.RemoveConnection(ctx, c.user.Id); err != nil {
		r.log.Error().Err(err).Str("user_id", c.user.Id).Msg("failed to remove presence")
	}
}

// Heartbeat refreshes the user's presence and retries a subscription that
// failed when the user connected.
func (r *Registry) Heartbeat(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := r.store.UpdateHeartbeat(ctx, c.user.Id); err != nil {
		r.log.Warn().Err(err).Str("user_id", c.user.Id).Msg("failed to refresh presence")
	}

	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	if r.hasUser(c.user.Id) {
		r.ensureSubscribed(ctx, c.user.Id)
	}
}

// ensureSubscribed subscribes the user unless an earlier attempt succeeded.
// The caller holds storeMu.
func (r *Registry) ensureSubscribed(ctx context.Context, userId string) {
	if _, ok := r.subscribed[userId]; ok {
		return
	}

	if err := r.store.Subscribe(ctx, userId); err != nil {
		r.log.Error().Err(err).Str("user_id", userId).Msg("failed to subscribe to notifications")
		return
	}
	r.subscribed[userId] = struct{}{}
}

func (r *Registry) hasUser(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userId]
	return ok
}

func (r *Registry) addClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c] = struct{}{}

	userClients, ok := r.users[c.user.Id]
	if !ok {
		userClients = make(map[*Client]struct{})
		r.users[c.user.Id] = userClients
	}
	userClients[c] = struct{}{}
}

func (r *Registry) removeClient(c *Client) (found, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false, false
	}
	delete(r.clients, c)

	if userClients, ok := r.users[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.users, c.user.Id)
			return true, true
		}
	}

	return true, false
}

// UserClients returns the local connections of a user.
func (r *Registry) UserClients(userId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.users[userId]))
	for c := range r.users[userId] {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Run forwards notifications published for users connected to this process
// until ctx is done or the store closes its message channel.
func (r *Registry) Run(ctx context.Context) error {
	msgs := r.store.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(msg)
		}
	}
}

func (r *Registry) deliver(msg presence.Message) {
	out := NewNotification(msg.Payload)
	for _, c := range r.UserClients(msg.UserId) {
		c.queueMessage(out)
	}
}

// CloseAll stops every connection. Their read loops then run the normal
// disconnect path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.stopClient()
	}
}
