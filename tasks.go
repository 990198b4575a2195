package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/metrifyhq/metrify_backend/config"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

const taskLockTTL = 10 * time.Minute

// TaskMessage is the payload Cloud Scheduler publishes to trigger one
// background task run.
type TaskMessage struct {
	Task          string `json:"task"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

// pushEnvelope is the Pub/Sub push delivery wrapper.
type pushEnvelope struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// TaskRunner owns the background task registry. Same-task overlapping runs
// are skipped: correctness of the metric tables depends on full-replace
// upserts plus non-overlapping schedules, not row locking.
type TaskRunner struct {
	logger *logrus.Logger
	tasks  map[string]func(ctx context.Context) error

	mu      sync.Mutex
	running map[string]bool
}

func NewTaskRunner(logger *logrus.Logger) *TaskRunner {
	return &TaskRunner{
		logger:  logger,
		tasks:   make(map[string]func(ctx context.Context) error),
		running: make(map[string]bool),
	}
}

func (t *TaskRunner) Register(name string, fn func(ctx context.Context) error) {
	t.tasks[name] = fn
}

// Run executes one named task under a per-task lock. The Redis lock guards
// across replicas; the in-process flag guards when Redis is unavailable.
func (t *TaskRunner) Run(ctx context.Context, name string) error {
	fn, ok := t.tasks[name]
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}

	t.mu.Lock()
	if t.running[name] {
		t.mu.Unlock()
		t.logger.WithContext(ctx).WithField("task", name).Warn("task already running; skipping")
		return nil
	}
	t.running[name] = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running[name] = false
		t.mu.Unlock()
	}()

	var lock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, "lock:task:"+name, taskLockTTL, nil)
		if err == redislock.ErrNotObtained {
			t.logger.WithContext(ctx).WithField("task", name).Warn("task lock held elsewhere; skipping")
			return nil
		} else if err != nil {
			t.logger.WithContext(ctx).WithField("task", name).Warn("error obtaining task lock; proceeding without it: " + err.Error())
			lock = nil
		}
	}
	defer func() {
		if lock == nil {
			return
		}
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			t.logger.WithContext(ctx).WithField("task", name).Warn("failed to release task lock: " + releaseErr.Error())
		}
	}()

	started := time.Now()
	t.logger.WithContext(ctx).WithField("task", name).Info("task started")
	if err := fn(ctx); err != nil {
		config.LogError(t.logger, "tasks", "Run", "task failed", name, err)
		return err
	}
	t.logger.WithContext(ctx).WithFields(logrus.Fields{
		"task":     name,
		"duration": time.Since(started).String(),
	}).Info("task finished")
	return nil
}

// taskPushHandler is the Pub/Sub push endpoint Cloud Scheduler targets.
// Malformed deliveries are acked and dropped to avoid retry loops; a failed
// task run returns non-2xx so Pub/Sub redelivers.
func taskPushHandler(runner *TaskRunner, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "tasks", "taskPushHandler", "read body", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var envelope pushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "tasks", "taskPushHandler", "unmarshal envelope", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg TaskMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			config.LogError(logger, "tasks", "taskPushHandler", "unmarshal task message", string(envelope.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if msg.Task == "" {
			config.LogError(logger, "tasks", "taskPushHandler", "missing task name", msg, fmt.Errorf("task is required"))
			c.Status(http.StatusNoContent)
			return
		}

		correlationId := msg.CorrelationId
		if correlationId == "" {
			correlationId = envelope.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		ctx = utils.SetTriggeredByInContext(ctx, "scheduler")

		if err := runner.Run(ctx, msg.Task); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// publishTask enqueues one task run on the scheduler topic.
func publishTask(ctx context.Context, task, correlationId string) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}
	topicName := strings.TrimSpace(os.Getenv("TASKS_TOPIC"))
	if topicName == "" {
		topicName = "metrify-tasks"
	}
	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return err
	}
	data, err := json.Marshal(TaskMessage{Task: task, CorrelationId: correlationId})
	if err != nil {
		return err
	}
	_, err = topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	return err
}

// taskTriggerHandler lets operators kick a task run by name. The run is
// published to the scheduler topic so any replica can pick it up; when no
// broker is configured it falls back to an in-process run.
func taskTriggerHandler(runner *TaskRunner, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if _, ok := runner.tasks[name]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
			return
		}

		ctx := c.Request.Context()
		correlationId := utils.CorrelationIdFromContextOrNew(ctx)
		if err := publishTask(ctx, name, correlationId); err != nil {
			logger.WithContext(ctx).WithField("task", name).Warn("publish failed; running task in-process: " + err.Error())
			go func() {
				runCtx := utils.SetCorrelationIdInContext(context.Background(), correlationId)
				runCtx = utils.SetTriggeredByInContext(runCtx, "manual")
				if runErr := runner.Run(runCtx, name); runErr != nil {
					config.LogError(logger, "tasks", "taskTriggerHandler", "in-process run failed", name, runErr)
				}
			}()
		}
		c.JSON(http.StatusAccepted, gin.H{"task": name, "correlation_id": correlationId})
	}
}

// startLocalScheduler runs the task loop in-process for development, where
// no Cloud Scheduler pushes exist. Enabled with ENABLE_LOCAL_SCHEDULER=true.
func startLocalScheduler(ctx context.Context, runner *TaskRunner, logger *logrus.Logger) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("ENABLE_LOCAL_SCHEDULER")), "true") {
		return
	}

	schedules := []struct {
		task  string
		every time.Duration
	}{
		{"reconciliation", time.Hour},
		{"aggregation", 30 * time.Minute},
		{"pricing", 6 * time.Hour},
	}

	for _, s := range schedules {
		go func(task string, every time.Duration) {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runCtx := utils.SetCorrelationIdInContext(ctx, utils.CorrelationIdFromContextOrNew(context.Background()))
					runCtx = utils.SetTriggeredByInContext(runCtx, "local-scheduler")
					if err := runner.Run(runCtx, task); err != nil {
						config.LogError(logger, "tasks", "startLocalScheduler", "scheduled run failed", task, err)
					}
				}
			}
		}(s.task, s.every)
	}
	logger.Info("local scheduler enabled")
}
