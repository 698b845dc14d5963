package models

// Checkpoint is a point-in-graph snapshot written by the workflow engine
// around each node boundary and read back on resume (§3, §4.3).
type Checkpoint struct {
	WorkflowThreadID string `json:"workflow_thread_id"`
	CheckpointID     string `json:"checkpoint_id"`
	State            []byte `json:"state"`
}
