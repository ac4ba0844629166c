// Package queue carries answer-generation jobs over Redis Streams.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chapterwise/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one request to generate an answer for a question.
type Job struct {
	ID           string    `json:"job_id"`
	QuestionID   string    `json:"question_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Active reports whether the job may still run.
func (j Job) Active() bool {
	return j.Status == StatusQueued || j.Status == StatusProcessing
}

// Handler processes a job. A nil error acks it; an error retries it until
// MaxRetries, after which the job fails and OnFailed runs.
type Handler func(ctx context.Context, job Job) error

type Config struct {
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	Logger     *slog.Logger
	// OnFailed runs once when a job exhausts its retries.
	OnFailed func(ctx context.Context, job Job, err error)
}

// GenerationQueue is a consumer-group backed job queue with per-job status
// hashes and at most one active job per question.
type GenerationQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	logger       *slog.Logger
	onFailed     func(context.Context, Job, error)

	groupOnce sync.Once
	wg        sync.WaitGroup
}

func NewGenerationQueue(client *redis.Client, cfg Config) (*GenerationQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	q := &GenerationQueue{
		client:       client,
		stream:       stream,
		group:        strings.TrimSpace(cfg.Group),
		consumerBase: strings.TrimSpace(cfg.Consumer),
		jobTTL:       cfg.JobTTL,
		maxRetries:   cfg.MaxRetries,
		block:        cfg.Block,
		claimIdle:    cfg.ClaimIdle,
		retryDelay:   cfg.RetryDelay,
		maxLen:       cfg.MaxLen,
		readCount:    cfg.ReadCount,
		logger:       cfg.Logger,
		onFailed:     cfg.OnFailed,
	}
	if q.group == "" {
		q.group = "answerers"
	}
	if q.consumerBase == "" {
		q.consumerBase = util.NewID()
	}
	if q.jobTTL <= 0 {
		q.jobTTL = 24 * time.Hour
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 2 * time.Minute
	}
	if q.retryDelay < 0 {
		q.retryDelay = 0
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 4
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.logger = q.logger.With("stream", q.stream)
	return q, nil
}

// Enqueue schedules generation for questionID. If a job for the question is
// still queued or processing, that job is returned instead of a new one.
func (q *GenerationQueue) Enqueue(ctx context.Context, questionID string) (Job, error) {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return Job{}, errors.New("question id required")
	}
	now := time.Now().UTC()
	job := Job{ID: util.NewID(), QuestionID: questionID, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}

	claimed, err := q.client.SetNX(ctx, q.activeKey(questionID), job.ID, q.jobTTL).Result()
	if err != nil {
		return Job{}, fmt.Errorf("claim question job: %w", err)
	}
	if !claimed {
		existingID, err := q.client.Get(ctx, q.activeKey(questionID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Job{}, err
		}
		if existing, ok, err := q.GetJob(ctx, existingID); err == nil && ok && existing.Active() {
			return existing, nil
		}
		if err := q.client.Set(ctx, q.activeKey(questionID), job.ID, q.jobTTL).Err(); err != nil {
			return Job{}, err
		}
	}

	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": job.ID, "question_id": questionID},
	}).Err(); err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	q.logger.Info("generation job queued", "job_id", job.ID, "question_id", questionID)
	return job, nil
}

func (q *GenerationQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start runs concurrency consumers until ctx is done. Wait blocks until
// they have all returned.
func (q *GenerationQueue) Start(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	return nil
}

func (q *GenerationQueue) Wait() { q.wg.Wait() }

func (q *GenerationQueue) ensureGroup(ctx context.Context) error {
	var err error
	q.groupOnce.Do(func() {
		err = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
			err = nil
		}
	})
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *GenerationQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	logger := q.logger.With("consumer", consumer)
	for ctx.Err() == nil {
		if msgs, err := q.claimPending(ctx, consumer); err != nil {
			if ctx.Err() == nil {
				logger.Warn("claim pending failed", "err", err)
			}
		} else {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Warn("read group failed", "err", err)
			q.sleep(ctx, time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *GenerationQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

func (q *GenerationQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	questionID, _ := msg.Values["question_id"].(string)
	if jobID == "" || questionID == "" {
		q.logger.Warn("dropping malformed job message", "msg_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID, questionID)
	if err != nil {
		q.logger.Error("mark job processing failed", "job_id", jobID, "err", err)
		return
	}
	logger := q.logger.With("job_id", jobID, "question_id", questionID, "attempt", job.Attempts)

	herr := handler(ctx, job)
	if herr == nil {
		_ = q.setStatus(ctx, job, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		logger.Info("generation job done")
		return
	}
	if ctx.Err() != nil {
		// Shutting down: leave the message pending so another consumer claims it.
		return
	}
	if job.Attempts >= q.maxRetries {
		job.Status = StatusFailed
		_ = q.setStatus(ctx, job, StatusFailed, herr.Error())
		q.ackAndDel(ctx, msg.ID)
		logger.Error("generation job failed", "err", herr)
		if q.onFailed != nil {
			q.onFailed(ctx, job, herr)
		}
		return
	}
	logger.Warn("generation job retrying", "err", herr)
	_ = q.setStatus(ctx, job, StatusQueued, herr.Error())
	q.sleep(ctx, q.retryDelay)
	if err := q.requeueAndAck(ctx, msg.ID, jobID, questionID); err != nil {
		logger.Warn("requeue failed; message stays pending", "err", err)
	}
}

func (q *GenerationQueue) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *GenerationQueue) ackAndDel(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, _ = pipe.Exec(ctx)
}

// requeueAndAck re-adds the job and acks the old message atomically; on
// failure the old message stays pending for XAUTOCLAIM.
func (q *GenerationQueue) requeueAndAck(ctx context.Context, msgID, jobID, questionID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID, "question_id": questionID},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *GenerationQueue) markProcessing(ctx context.Context, jobID, questionID string) (Job, error) {
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		job = Job{ID: jobID, CreatedAt: time.Now().UTC()}
	}
	job.QuestionID = questionID
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *GenerationQueue) setStatus(ctx context.Context, job Job, status, errMsg string) error {
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *GenerationQueue) writeStatus(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"question_id": job.QuestionID,
		"status":      job.Status,
		"error":       job.ErrorMessage,
		"attempts":    strconv.Itoa(job.Attempts),
		"created_at":  job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  job.UpdatedAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, q.jobTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *GenerationQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func (q *GenerationQueue) activeKey(questionID string) string {
	return fmt.Sprintf("job:%s:question:%s", q.stream, questionID)
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{
		ID:           jobID,
		QuestionID:   data["question_id"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["created_at"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updated_at"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}
