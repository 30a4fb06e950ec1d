// Package jobs hosts background task processing on top of Asynq.
package jobs

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
)
