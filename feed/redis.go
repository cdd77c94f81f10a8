package feed

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const channelPrefix = "movement_log:"

// Channel returns the pub/sub channel carrying movement-log inserts of a
// workspace.
func Channel(workspaceID string) string {
	return channelPrefix + workspaceID
}

// RedisFeed is a change feed over Redis pub/sub.
type RedisFeed struct {
	rc     *redis.Client
	logger *log.Logger
}

func NewRedisFeed(rc *redis.Client, logger *log.Logger) *RedisFeed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisFeed{rc: rc, logger: logger}
}

// Subscribe opens the workspace channel and waits for the subscription to be
// acknowledged before returning. onInsert is called from a single goroutine
// per subscription, in channel order.
func (f *RedisFeed) Subscribe(ctx context.Context, workspaceID string, onInsert func(domain.MovementRecord)) (domain.Subscription, error) {
	ps := f.rc.Subscribe(ctx, Channel(workspaceID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, &domain.SubscriptionError{WorkspaceID: workspaceID, Err: err}
	}
	sub := &redisSubscription{workspaceID: workspaceID, ps: ps, done: make(chan struct{})}
	go sub.run(f.logger, onInsert)
	return sub, nil
}

type redisSubscription struct {
	workspaceID string
	ps          *redis.PubSub
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

func (s *redisSubscription) WorkspaceID() string { return s.workspaceID }

func (s *redisSubscription) run(logger *log.Logger, onInsert func(domain.MovementRecord)) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		var rec domain.MovementRecord
		if err := sonic.Unmarshal([]byte(msg.Payload), &rec); err != nil {
			logger.WithError(err).WithField("channel", msg.Channel).Error("unable to parse movement")
			continue
		}
		onInsert(rec)
	}
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ps.Close()
		<-s.done
	})
	return s.closeErr
}

// PublishingLog publishes every successfully appended record to the
// workspace channel, acting as the insert trigger of the change feed.
type PublishingLog struct {
	base   domain.MovementLogStore
	rc     *redis.Client
	logger *log.Logger
}

func NewPublishingLog(base domain.MovementLogStore, rc *redis.Client, logger *log.Logger) *PublishingLog {
	if base == nil {
		panic("feed.NewPublishingLog: base movement log is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PublishingLog{base: base, rc: rc, logger: logger}
}

// Append stores the record and publishes it. A publish failure is logged but
// not returned: the record is already durable and delivery is best effort.
func (p *PublishingLog) Append(ctx context.Context, rec domain.MovementRecord) (domain.MovementRecord, error) {
	saved, err := p.base.Append(ctx, rec)
	if err != nil {
		return domain.MovementRecord{}, err
	}
	data, err := sonic.Marshal(saved)
	if err != nil {
		p.logger.WithError(err).WithField("movement", saved.ID).Error("unable to encode movement")
		return saved, nil
	}
	if err := p.rc.Publish(ctx, Channel(saved.WorkspaceID), data).Err(); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{"movement": saved.ID, "workspace": saved.WorkspaceID}).Error("unable to publish movement")
	}
	return saved, nil
}
