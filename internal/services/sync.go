package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/savage-app/savage/internal/mq"
	"github.com/savage-app/savage/internal/search"
)

const (
	SyncReasonInbox        = "inbox"
	SyncReasonRegistration = "registration"
	SyncReasonSchedule     = "schedule"
)

// SyncRequest is the event published when the username index is stale.
type SyncRequest struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher sends raw payloads to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Subscriber delivers payloads from a named channel until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// SyncPublisher turns sync requests into channel messages.
type SyncPublisher struct {
	pub     Publisher
	channel string
	now     func() time.Time
}

func NewSyncPublisher(pub Publisher, channel string) *SyncPublisher {
	return &SyncPublisher{pub: pub, channel: channel, now: time.Now}
}

func (p *SyncPublisher) RequestSync(ctx context.Context, reason string) error {
	data, err := json.Marshal(SyncRequest{Reason: reason, RequestedAt: p.now().UTC()})
	if err != nil {
		return err
	}
	_, err = p.pub.Publish(ctx, p.channel, data, map[string]string{"reason": reason})
	return err
}

// UsernameSyncService pushes every username to the search index.
type UsernameSyncService struct {
	users       UserRepository
	index       search.Index
	minInterval time.Duration
	log         zerolog.Logger
	now         func() time.Time

	mu            sync.Mutex
	lastStarted   time.Time
	lastCompleted time.Time
}

func NewUsernameSyncService(users UserRepository, index search.Index, minInterval time.Duration, log zerolog.Logger) *UsernameSyncService {
	return &UsernameSyncService{
		users:       users,
		index:       index,
		minInterval: minInterval,
		log:         log,
		now:         time.Now,
	}
}

// Sync saves the full {objectID, username} list and returns how many
// records were written.
func (s *UsernameSyncService) Sync(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

func (s *UsernameSyncService) syncLocked(ctx context.Context) (int, error) {
	started := s.now()
	users, err := s.users.ListUsernames(ctx)
	if err != nil {
		return 0, fmt.Errorf("list usernames: %w", err)
	}

	records := search.RecordsFromUsernames(users)
	if err := s.index.SaveObjects(ctx, records); err != nil {
		return 0, fmt.Errorf("save %d records to %s: %w", len(records), s.index.Name(), err)
	}

	s.lastStarted = started
	s.lastCompleted = s.now()
	s.log.Info().
		Str("index", s.index.Name()).
		Int("records", len(records)).
		Dur("took", s.lastCompleted.Sub(started)).
		Msg("username index synced")
	return len(records), nil
}

// HandleRequest runs a sync for req unless a completed sync already covers
// it. Inbox requests are additionally throttled to one per minimum interval.
func (s *UsernameSyncService) HandleRequest(ctx context.Context, req SyncRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastCompleted.IsZero() {
		if !req.RequestedAt.IsZero() && req.RequestedAt.Before(s.lastStarted) {
			return nil
		}
		if req.Reason != SyncReasonRegistration && s.now().Sub(s.lastCompleted) < s.minInterval {
			return nil
		}
	}

	_, err := s.syncLocked(ctx)
	return err
}

// Subscribe consumes sync requests from channel until ctx is cancelled.
// Malformed payloads are dropped.
func (s *UsernameSyncService) Subscribe(ctx context.Context, sub Subscriber, channel string) error {
	return sub.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
		var req SyncRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed sync request")
			return nil
		}
		if err := s.HandleRequest(ctx, req); err != nil {
			s.log.Error().Err(err).Str("reason", req.Reason).Msg("username sync failed")
			return err
		}
		return nil
	})
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (s *UsernameSyncService) Run(ctx context.Context, interval time.Duration) error {
	if _, err := s.Sync(ctx); err != nil {
		s.log.Error().Err(err).Msg("username sync failed")
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.HandleRequest(ctx, SyncRequest{Reason: SyncReasonSchedule, RequestedAt: s.now()}); err != nil {
				s.log.Error().Err(err).Msg("username sync failed")
			}
		}
	}
}
