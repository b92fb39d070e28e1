package dispatch

import (
	"context"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
	"github.com/google/uuid"
)

const (
	TaskKindResolvePID   = "resolve-pid"
	TaskKindResolveAll   = "resolve-all"
	TaskKindResolveEvent = "resolve-event"
)

// TaskMessage is the wire form of one unit of work on a queue partition.
// Attempt starts at 1; the long-horizon retry republishes with Attempt+1.
type TaskMessage struct {
	TaskID  string   `json:"task_id"`
	Kind    string   `json:"kind"`
	Queue   string   `json:"queue"`
	PID     string   `json:"pid,omitempty"`
	PIDs    []string `json:"pids,omitempty"`
	EventID int      `json:"event_id,omitempty"`
	Attempt int      `json:"attempt"`
}

type ParallelDispatchResult struct {
	QueuedCount  int `json:"queued_count"`
	GroupCount   int `json:"group_count"`
	MaxGroupSize int `json:"max_group_size"`
}

// chunkPIDs partitions pids into groups of at most size, preserving order.
func chunkPIDs(pids []string, size int) [][]string {
	if size <= 0 || len(pids) == 0 {
		return nil
	}
	var groups [][]string
	for start := 0; start < len(pids); start += size {
		end := start + size
		if end > len(pids) {
			end = len(pids)
		}
		groups = append(groups, pids[start:end])
	}
	return groups
}

// DispatchParallel fans out one independent unit of work per PID, submitted
// in bounded groups so a single request cannot burst an unbounded number of
// units into the queue.
func DispatchParallel(ctx context.Context, pids []string) (*ParallelDispatchResult, error) {
	settings := config.GetSettings()

	groups := chunkPIDs(pids, settings.MaxGroupSize)
	queued := 0
	for _, group := range groups {
		for _, pid := range group {
			msg := TaskMessage{
				TaskID:  uuid.NewString(),
				Kind:    TaskKindResolvePID,
				Queue:   settings.TopicPIDResolution,
				PID:     pid,
				Attempt: 1,
			}
			if _, err := models.CreateTaskRecord(ctx, msg.TaskID, msg.Kind, msg.Queue); err != nil {
				return nil, err
			}
			if _, err := config.PublishToTopic(ctx, msg.Queue, msg); err != nil {
				return nil, err
			}
			queued++
		}
	}

	return &ParallelDispatchResult{
		QueuedCount:  queued,
		GroupCount:   len(groups),
		MaxGroupSize: settings.MaxGroupSize,
	}, nil
}

// DispatchBatch submits all PIDs as one aggregate unit of work. No
// partial-failure isolation: callers needing isolation use DispatchParallel.
func DispatchBatch(ctx context.Context, pids []string) (string, error) {
	settings := config.GetSettings()

	msg := TaskMessage{
		TaskID:  uuid.NewString(),
		Kind:    TaskKindResolveAll,
		Queue:   settings.TopicPIDResolution,
		PIDs:    pids,
		Attempt: 1,
	}
	if _, err := models.CreateTaskRecord(ctx, msg.TaskID, msg.Kind, msg.Queue); err != nil {
		return "", err
	}
	if _, err := config.PublishToTopic(ctx, msg.Queue, msg); err != nil {
		return "", err
	}
	return msg.TaskID, nil
}

// DispatchEventResolution schedules the async resolution of a registered
// PIDMR event on the pidmr partition.
func DispatchEventResolution(ctx context.Context, event *models.PIDMREvent) (string, error) {
	settings := config.GetSettings()

	msg := TaskMessage{
		TaskID:  uuid.NewString(),
		Kind:    TaskKindResolveEvent,
		Queue:   settings.TopicPIDMR,
		PID:     event.PID,
		EventID: event.ID,
		Attempt: 1,
	}
	if _, err := models.CreateTaskRecord(ctx, msg.TaskID, msg.Kind, msg.Queue); err != nil {
		return "", err
	}
	if _, err := config.PublishToTopic(ctx, msg.Queue, msg); err != nil {
		return "", err
	}
	return msg.TaskID, nil
}
