// Package jobs holds the background task definitions and the Asynq
// worker plumbing around them.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncNamespace reconciles one namespace with the remote.
	TaskSyncNamespace = "sync:namespace"
	// TaskSyncAll reconciles every configured namespace.
	TaskSyncAll = "sync:all"
)

// SyncNamespacePayload names the namespace a sync task targets.
type SyncNamespacePayload struct {
	Namespace string `json:"namespace"`
}

// NewSyncNamespaceTask constructs a sync task for one namespace.
func NewSyncNamespaceTask(ns string) (*asynq.Task, error) {
	data, err := json.Marshal(SyncNamespacePayload{Namespace: ns})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncNamespace, data), nil
}

// NewSyncAllTask constructs the fan-out task the scheduler enqueues.
func NewSyncAllTask() *asynq.Task {
	return asynq.NewTask(TaskSyncAll, nil)
}
