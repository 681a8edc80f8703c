package roles

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the platform surface the queue needs.
type Client interface {
	// MemberRoles returns the member's current role IDs.
	MemberRoles(guildID, userID string) ([]string, error)
	// SetMemberRoles replaces the member's role list in one call.
	SetMemberRoles(guildID, userID string, roleIDs []string) error
}

// intent is a computed desired final role set for one member. Intents carry
// the full list, never deltas, so applying one late or twice is harmless.
type intent struct {
	guildID string
	userID  string
	roleIDs []string
}

// Queue applies role-set intents through a token-bucket limiter to stay
// under platform rate limits. Submission never blocks the caller.
type Queue struct {
	client  Client
	limiter *rate.Limiter
	logger  *zap.Logger

	ch     chan intent
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewQueue creates a Queue and starts its worker.
func NewQueue(client Client, rps float64, burst int, logger *zap.Logger) *Queue {
	q := &Queue{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
		ch:      make(chan intent, 1024),
		stopCh:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Apply plans a transition from the member's current roles and enqueues the
// resulting intent. A plan with no effective change submits nothing, so
// redundant calls cost no platform mutations. Returns whether a mutation
// was scheduled.
func (q *Queue) Apply(guildID, userID string, removeSet, addSet []string) bool {
	if len(removeSet)+len(addSet) == 0 {
		return false
	}
	current, err := q.client.MemberRoles(guildID, userID)
	if err != nil {
		q.logger.Warn("member role lookup failed",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return false
	}
	final, changed := Plan(current, removeSet, addSet)
	if !changed {
		return false
	}
	q.logger.Debug("role transition planned",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Strings("remove", removeSet),
		zap.Strings("add", addSet))

	select {
	case q.ch <- intent{guildID: guildID, userID: userID, roleIDs: final}:
		return true
	default:
		q.logger.Warn("role queue full, dropping intent",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID))
		return false
	}
}

// Stop drains pending intents and shuts down the worker.
func (q *Queue) Stop() {
	select {
	case <-q.stopCh:
	default:
		close(q.stopCh)
	}
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case in := <-q.ch:
			q.apply(in)
		case <-q.stopCh:
			// Drain what is already queued, then exit.
			for {
				select {
				case in := <-q.ch:
					q.apply(in)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) apply(in intent) {
	if err := q.limiter.Wait(context.Background()); err != nil {
		return
	}
	if err := q.client.SetMemberRoles(in.guildID, in.userID, in.roleIDs); err != nil {
		q.logger.Error("role mutation failed",
			zap.String("guild_id", in.guildID),
			zap.String("user_id", in.userID),
			zap.Error(err))
	}
}
