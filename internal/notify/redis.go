package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"drawdown/internal/domain"
)

const DefaultStream = "drawdown:notifications"

// RedisStream appends notifications to a redis stream for downstream consumers.
type RedisStream struct {
	Client *redis.Client
	Stream string
	Now    func() time.Time
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (r RedisStream) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r RedisStream) publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	stream := r.Stream
	if stream == "" {
		stream = DefaultStream
	}
	if err := r.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"kind":      evt.Kind,
			"report_id": evt.ReportID,
			"data":      string(data),
		},
	}).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Kind, stream, err)
	}
	return nil
}

func (r RedisStream) NotifyReviewPool(ctx context.Context, reportID, ibpsNumber string) error {
	return r.publish(ctx, reviewPoolEvent(reportID, ibpsNumber, r.now()))
}

func (r RedisStream) NotifyActor(ctx context.Context, reportID, actorID string, status domain.Status, comments string) error {
	return r.publish(ctx, actorEvent(reportID, actorID, status, comments, r.now()))
}
