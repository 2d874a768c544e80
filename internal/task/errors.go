package task

import "fmt"

// TaskCannotBeDeletedError blocks cleanup when a task still has published
// children or output models. Children/Models carry the blocking counts so a
// caller can offer a force retry.
type TaskCannotBeDeletedError struct {
	TaskId   string
	Reason   string
	Children int
	Models   int
}

func (e *TaskCannotBeDeletedError) Error() string {
	msg := fmt.Sprintf("task %s cannot be deleted: %s", e.TaskId, e.Reason)
	if e.Children > 0 {
		msg += fmt.Sprintf(" (children=%d)", e.Children)
	}
	if e.Models > 0 {
		msg += fmt.Sprintf(" (models=%d)", e.Models)
	}
	return msg
}

// InvalidTaskStatusError reports a transition rejected by the state machine,
// or a task in a state that does not permit the attempted operation.
type InvalidTaskStatusError struct {
	Message       string
	CurrentStatus string
	NewStatus     string
}

func (e *InvalidTaskStatusError) Error() string {
	if e.NewStatus != "" {
		return fmt.Sprintf("%s (current_status=%s, new_status=%s)", e.Message, e.CurrentStatus, e.NewStatus)
	}
	return fmt.Sprintf("%s (current_status=%s)", e.Message, e.CurrentStatus)
}

// FailedChangingTaskStatusError is the optimistic-concurrency conflict: the
// conditional status write matched zero rows because another actor changed
// the task first. Callers should reload and retry if still relevant.
type FailedChangingTaskStatusError struct {
	TaskId        string
	CurrentStatus string
	NewStatus     string
}

func (e *FailedChangingTaskStatusError) Error() string {
	return fmt.Sprintf("failed changing status of task %s from %s to %s: task status was changed concurrently",
		e.TaskId, e.CurrentStatus, e.NewStatus)
}

type InvalidTaskIdError struct {
	TaskId string
}

func (e *InvalidTaskIdError) Error() string {
	return fmt.Sprintf("invalid task id: %s", e.TaskId)
}
