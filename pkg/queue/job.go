package queue

import "context"

// Job handles one message type.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type routed to this job.
	Type() string

	// Handle processes a payload. Returning an error schedules a retry.
	Handle(ctx context.Context, payload interface{}) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	MsgType string
	Fn      func(ctx context.Context, payload interface{}) error
}

func (j JobFunc) Name() string { return j.JobName }
func (j JobFunc) Type() string { return j.MsgType }
func (j JobFunc) Handle(ctx context.Context, payload interface{}) error {
	return j.Fn(ctx, payload)
}
