// Package sqsqueue provides an SQS-backed queue.Queue for handing runs to workers.
package sqsqueue

// Config controls the SQS adapter behavior.
type Config struct {
	// Required: fully qualified SQS queue URL
	QueueURL string `yaml:"queueURL"`

	// Optional: AWS region; falls back to default chain if empty
	Region string `yaml:"region"`

	// Optional: endpoint override, e.g. a LocalStack URL
	Endpoint string `yaml:"endpoint"`

	// ReceiveMessage long polling seconds (0..20). If DequeueWithTimeout supplies
	// a shorter timeout, that value is used instead for that call.
	WaitTimeSeconds int `yaml:"waitTimeSeconds"`

	// Visibility timeout in seconds for received messages.
	VisibilityTimeout int `yaml:"visibilityTimeout"`

	// FIFO mode. Messages are grouped by thread so runs of one thread stay ordered.
	FIFO bool `yaml:"fifo"`
	// Message group ID to use for FIFO queues when the task has no thread.
	MessageGroupID string `yaml:"messageGroupID"`

	// Backoff in seconds when Nack with requeue=true. 0 makes it immediately available.
	RequeueBackoffSeconds int `yaml:"requeueBackoffSeconds"`

	// If true and Nack with requeue=false, drop the message (DeleteMessage) instead of
	// leaving it for the queue's redrive policy.
	DropOnNackNoRequeue bool `yaml:"dropOnNackNoRequeue"`
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		WaitTimeSeconds:       20,
		VisibilityTimeout:     30,
		RequeueBackoffSeconds: 0,
	}
}
