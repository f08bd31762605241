package queue

import (
	"encoding/json"
	"fmt"
)

const (
	TaskOrphan = "orphan"
	TaskSweep  = "sweep"
)

// Task is one reconcile request on the stream. Fields travel as flat string
// values in the stream entry.
type Task struct {
	Type     string `json:"type"`
	ImageID  string `json:"imageId,omitempty"`
	Location string `json:"location,omitempty"`
}

func (t Task) values() map[string]any {
	values := map[string]any{"type": t.Type}
	if t.ImageID != "" {
		values["imageId"] = t.ImageID
	}
	if t.Location != "" {
		values["location"] = t.Location
	}
	return values
}

// DecodeTask converts stream entry values back into a Task.
func DecodeTask(values map[string]interface{}) (Task, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, err
	}
	if task.Type == "" {
		return Task{}, fmt.Errorf("task type missing")
	}
	return task, nil
}
