package kafka

import (
	"context"
	"encoding/json"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// SourceService names this service in event envelopes.
const SourceService = "gcn-heatmap"

// EventPublisher sends BuildCompleted events to the result topic.
type EventPublisher struct {
	pub   Publisher
	topic string
}

// NewEventPublisher publishes to topic through pub.
func NewEventPublisher(pub Publisher, topic string) *EventPublisher {
	return &EventPublisher{pub: pub, topic: topic}
}

var _ appHeatmap.EventPublisher = (*EventPublisher)(nil)

// PublishBuildCompleted wraps event in an envelope keyed by run ID.
func (p *EventPublisher) PublishBuildCompleted(ctx context.Context, event *appHeatmap.BuildCompleted) error {
	env, err := NewEventEnvelope(EventBuildCompleted, SourceService, event)
	if err != nil {
		return err
	}
	if event.JobID != "" {
		env.Metadata = map[string]string{"job_id": event.JobID}
	}
	msg, err := env.ToMessage(p.topic, []byte(event.RunID))
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, msg)
}

// JobPublisher submits BuildJob messages to the job topic.
type JobPublisher struct {
	pub   Publisher
	topic string
}

// NewJobPublisher publishes to topic through pub.
func NewJobPublisher(pub Publisher, topic string) *JobPublisher {
	return &JobPublisher{pub: pub, topic: topic}
}

// Submit sends job as plain JSON keyed by dataset and instance, so jobs for
// one file land on one partition.
func (p *JobPublisher) Submit(ctx context.Context, job *appHeatmap.BuildJob) error {
	if err := job.Request().Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "marshal build job")
	}
	return p.pub.Publish(ctx, &ProducerMessage{
		Topic:   p.topic,
		Key:     []byte(job.Dataset + "/" + job.Instance),
		Value:   val,
		Headers: map[string]string{"job_id": job.JobID},
	})
}

// DecodeBuildJob parses a job message. Failures carry CodeMessageDecode.
func DecodeBuildJob(msg *Message) (*appHeatmap.BuildJob, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.CodeMessageDecode, "empty build job")
	}
	var job appHeatmap.BuildJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return nil, errors.Wrap(err, errors.CodeMessageDecode, "decode build job").WithDetailf("offset %d", msg.Offset)
	}
	if job.JobID == "" {
		job.JobID = msg.Headers["job_id"]
	}
	return &job, nil
}
