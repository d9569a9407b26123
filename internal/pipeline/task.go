// Package pipeline implements DocPipeline: the ingestion worker that
// consumes MessageBus tasks, extracts/chunks/embeds document text, and
// drives the document status machine in DocStore.
package pipeline

import "github.com/ragcore/qacore/internal/model"

// TaskType discriminates the four MessageBus task shapes.
type TaskType string

const (
	TaskFile   TaskType = "file"
	TaskText   TaskType = "text"
	TaskDelete TaskType = "delete"
	TaskBatch  TaskType = "batch"
)

// Task is the MessageBus payload the bus delivers to the pipeline's handler.
type Task struct {
	TaskType       TaskType          `json:"task_type"`
	DocumentUUID   string            `json:"document_uuid"`
	FilePath       string            `json:"file_path,omitempty"`
	Content        string            `json:"content,omitempty"`
	CollectionName string            `json:"collection_name,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Permission     model.Permission  `json:"permission"`
	Batch          []Task            `json:"batch,omitempty"`
}

// Valid reports whether a task carries the minimum fields needed to process
// it. Malformed tasks (missing document_uuid) are discarded with a log line
// never retried.
func (t Task) Valid() bool {
	if t.DocumentUUID == "" && t.TaskType != TaskBatch {
		return false
	}
	switch t.TaskType {
	case TaskFile:
		return t.FilePath != ""
	case TaskText:
		return t.Content != ""
	case TaskDelete:
		return true
	case TaskBatch:
		return len(t.Batch) > 0
	default:
		return false
	}
}
