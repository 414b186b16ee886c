package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"drawdown/internal/domain"
	"drawdown/internal/notify"
)

var fixed = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

func TestRedisStreamPublishes(t *testing.T) {
	s := miniredis.RunT(t)
	client := notify.NewRedisClient(s.Addr(), "", 0)
	defer client.Close()
	n := notify.RedisStream{Client: client, Stream: "test:notifications", Now: fixed}
	ctx := context.Background()

	require.NoError(t, n.NotifyReviewPool(ctx, "r1", "IBPS-001"))
	require.NoError(t, n.NotifyActor(ctx, "r1", "rm-1", domain.StatusApproved, "ok"))

	msgs, err := client.XRange(ctx, "test:notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.KindReviewPool, msgs[0].Values["kind"])
	assert.Equal(t, "r1", msgs[0].Values["report_id"])

	var evt notify.Event
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["data"].(string)), &evt))
	assert.Equal(t, notify.KindStatusChange, evt.Kind)
	assert.Equal(t, "rm-1", evt.ActorID)
	assert.Equal(t, domain.StatusApproved, evt.Status)
	assert.Equal(t, "ok", evt.Comments)
}

func TestRedisStreamReportsOutage(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	addr := s.Addr()
	s.Close()
	client := notify.NewRedisClient(addr, "", 0)
	defer client.Close()
	n := notify.RedisStream{Client: client}
	assert.Error(t, n.NotifyReviewPool(context.Background(), "r1", "IBPS-001"))
}

func TestWebhookSignsBody(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotKind string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Drawdown-Signature")
		gotKind = r.Header.Get("X-Drawdown-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := notify.Webhook{URL: srv.URL, Secret: "s3cret", Client: srv.Client(), Now: fixed}
	require.NoError(t, hook.NotifyActor(context.Background(), "r1", "rm-1", domain.StatusReturnedToRM, "add photos"))
	assert.Equal(t, notify.KindStatusChange, gotKind)
	assert.Equal(t, notify.Sign("s3cret", gotBody), gotSig)

	var evt notify.Event
	require.NoError(t, json.Unmarshal(gotBody, &evt))
	assert.Equal(t, domain.StatusReturnedToRM, evt.Status)
	assert.Equal(t, "add photos", evt.Comments)
}

func TestWebhookFiltersAndFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := notify.Webhook{URL: srv.URL, Events: []string{notify.KindReviewPool}, Client: srv.Client()}
	require.NoError(t, hook.NotifyActor(context.Background(), "r1", "rm-1", domain.StatusApproved, ""))
	assert.Equal(t, 0, calls)

	err := hook.NotifyReviewPool(context.Background(), "r1", "IBPS-001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, 1, calls)
}

type failing struct{}

func (failing) NotifyReviewPool(context.Context, string, string) error { return errors.New("down") }

func (failing) NotifyActor(context.Context, string, string, domain.Status, string) error {
	return errors.New("down")
}

func TestMultiJoinsErrors(t *testing.T) {
	m := notify.Multi{notify.Log{Logger: zap.NewNop()}, failing{}, notify.Nop{}}
	assert.Error(t, m.NotifyReviewPool(context.Background(), "r1", "IBPS-001"))
	assert.Error(t, m.NotifyActor(context.Background(), "r1", "rm-1", domain.StatusRejected, ""))
	assert.NoError(t, notify.Multi{notify.Nop{}}.NotifyReviewPool(context.Background(), "r1", "x"))
}
