package models

import "time"

// Output is a typed value emitted by a successful task. (task_id, field_name)
// is unique; rows exist only for tasks in SUCCESS.
type Output struct {
	ID        string      `json:"id"` // task_id + ":" + field_name
	TaskID    string      `json:"task_id" badgerhold:"index"`
	JobID     string      `json:"job_id" badgerhold:"index"`
	FieldName string      `json:"field_name"`
	Value     interface{} `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
}

// OutputKey builds the storage key enforcing (task_id, field_name) uniqueness.
func OutputKey(taskID, fieldName string) string {
	return taskID + ":" + fieldName
}

// NewOutput creates an output row for a task field.
func NewOutput(taskID, jobID, fieldName string, value interface{}) *Output {
	return &Output{
		ID:        OutputKey(taskID, fieldName),
		TaskID:    taskID,
		JobID:     jobID,
		FieldName: fieldName,
		Value:     value,
		CreatedAt: time.Now(),
	}
}
