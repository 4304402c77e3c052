package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type effectPayload struct {
	MomID uint   `json:"momId"`
	To    string `json:"to"`
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, job); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != job.ID || got.Values["kind"] != job.Kind || got.Values["payload"] != string(job.Payload) {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, job); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueHandleMessageMarksFailedAfterRetries(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)
	q.maxRetries = 1

	var calls atomic.Int32
	q.handleMessage(ctx, redis.XMessage{
		ID: msgID,
		Values: map[string]any{
			"job_id":  job.ID,
			"kind":    job.Kind,
			"payload": string(job.Payload),
		},
	}, func(_ context.Context, got Job) error {
		calls.Add(1)
		var p effectPayload
		if err := got.Decode(&p); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if p.MomID != 7 || p.To != "APPROVED" {
			t.Fatalf("unexpected payload: %+v", p)
		}
		return errors.New("smtp relay down")
	})

	if calls.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", calls.Load())
	}
	stored, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if stored.Status != StatusFailed || stored.Attempts != 1 || stored.ErrorMessage != "smtp relay down" {
		t.Fatalf("unexpected job status: %+v", stored)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("expected failed message to be removed, stream len=%d", n)
	}
}

func TestRedisJobQueueStartProcessesJobs(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Client: client,
		Stream: "test:effects",
		Group:  "test-group",
		Block:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Job, 1)
	q.Start(ctx, 1, func(_ context.Context, job Job) error {
		done <- job
		return nil
	})
	t.Cleanup(func() {
		cancel()
		q.Wait()
	})

	job, err := q.Enqueue(context.Background(), "transition", effectPayload{MomID: 3, To: "CLOSED"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case got := <-done:
		if got.ID != job.ID {
			t.Fatalf("unexpected job: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("job was not processed")
	}
}

func TestNewRedisJobQueueValidatesConfig(t *testing.T) {
	if _, err := NewRedisJobQueue(RedisQueueConfig{Stream: "s"}); err == nil {
		t.Fatalf("expected error without client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	if _, err := NewRedisJobQueue(RedisQueueConfig{Client: client}); err == nil {
		t.Fatalf("expected error without stream")
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, Job) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Client:     client,
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, "transition", effectPayload{MomID: 7, To: "APPROVED"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, job
}
