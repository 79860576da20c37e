package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

type fakeProducer struct {
	topic string
	msgs  []*mq.Message
	err   error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.msgs = append(f.msgs, message)
	return nil
}

func (f *fakeProducer) Ping(ctx context.Context) error { return nil }

func (f *fakeProducer) Close() error { return nil }

func TestPublishFinalStatus(t *testing.T) {
	t.Parallel()
	producer := &fakeProducer{}
	pub := NewMQStatusEventPublisher(producer, "judge.status")

	event := model.StatusEvent{SubmissionID: "sub-9", ProblemID: 3, Status: model.StatusCompleted, Accepted: true}
	if err := pub.PublishFinalStatus(context.Background(), event); err != nil {
		t.Fatalf("PublishFinalStatus: %v", err)
	}
	if producer.topic != "judge.status" || len(producer.msgs) != 1 {
		t.Fatalf("unexpected publish: %q %d", producer.topic, len(producer.msgs))
	}
	msg := producer.msgs[0]
	if msg.ID != "sub-9" {
		t.Fatalf("message id = %q", msg.ID)
	}
	var decoded model.StatusEvent
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ProblemID != 3 || !decoded.Accepted {
		t.Fatalf("unexpected body: %+v", decoded)
	}
}

func TestPublishFinalStatusErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	event := model.StatusEvent{SubmissionID: "sub-1"}

	var unset *MQStatusEventPublisher
	if err := unset.PublishFinalStatus(ctx, event); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("err = %v, want ServiceUnavailable", err)
	}
	if err := NewMQStatusEventPublisher(&fakeProducer{}, "").PublishFinalStatus(ctx, event); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("err = %v, want InvalidParams", err)
	}
	if err := NewMQStatusEventPublisher(&fakeProducer{}, "t").PublishFinalStatus(ctx, model.StatusEvent{}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
	cause := errors.New("broker down")
	err := NewMQStatusEventPublisher(&fakeProducer{err: cause}, "t").PublishFinalStatus(ctx, event)
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
}
