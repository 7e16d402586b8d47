package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type mockSQS struct {
	sent     []*sqs.SendMessageInput
	received []*sqs.ReceiveMessageInput
	deleted  []string
	purged   []string
	messages []sqstypes.Message
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{MessageId: awsString("msg-1")}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.received = append(m.received, in)
	return &sqs.ReceiveMessageOutput{Messages: m.messages}, nil
}

func (m *mockSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) PurgeQueue(ctx context.Context, in *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error) {
	m.purged = append(m.purged, *in.QueueUrl)
	return &sqs.PurgeQueueOutput{}, nil
}

const paymentURL = "https://sqs.us-east-1.amazonaws.com/123456789012/payment-processing"

func newTestSQSBackend() (*SQSBackend, *mockSQS) {
	mock := &mockSQS{}
	return NewSQSBackend(mock, map[string]string{PaymentProcessing: paymentURL}, time.Minute), mock
}

func TestSQSBackend_SendClampsDelay(t *testing.T) {
	b, mock := newTestSQSBackend()
	ctx := context.Background()

	id, err := b.Send(ctx, PaymentProcessing, []byte(`{"id":"j1"}`), 2500*time.Millisecond)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("unexpected message id %q", id)
	}
	if mock.sent[0].DelaySeconds != 2 {
		t.Fatalf("expected 2s delay, got %d", mock.sent[0].DelaySeconds)
	}
	if *mock.sent[0].QueueUrl != paymentURL {
		t.Fatalf("wrong queue url %s", *mock.sent[0].QueueUrl)
	}
	if v := mock.sent[0].MessageAttributes["queue"].StringValue; v == nil || *v != PaymentProcessing {
		t.Fatalf("queue attribute not set")
	}

	_, _ = b.Send(ctx, PaymentProcessing, []byte(`{}`), time.Hour)
	if mock.sent[1].DelaySeconds != 900 {
		t.Fatalf("expected delay clamped to 900s, got %d", mock.sent[1].DelaySeconds)
	}
}

func TestSQSBackend_ReceiveDeletePurge(t *testing.T) {
	b, mock := newTestSQSBackend()
	ctx := context.Background()
	mock.messages = []sqstypes.Message{{
		MessageId:     awsString("m1"),
		Body:          awsString(`{"id":"j1"}`),
		ReceiptHandle: awsString("r1"),
	}}

	msgs, err := b.Receive(ctx, PaymentProcessing, 50, time.Minute)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Receipt != "r1" || string(msgs[0].Body) != `{"id":"j1"}` {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	in := mock.received[0]
	if in.MaxNumberOfMessages != 10 || in.WaitTimeSeconds != 20 || in.VisibilityTimeout != 60 {
		t.Fatalf("unexpected receive input %+v", in)
	}

	if err := b.Delete(ctx, PaymentProcessing, "r1"); err != nil || mock.deleted[0] != "r1" {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := b.Purge(ctx, PaymentProcessing); err != nil || mock.purged[0] != paymentURL {
		t.Fatalf("Purge failed: %v", err)
	}
}

func TestSQSBackend_UnknownQueue(t *testing.T) {
	b, _ := newTestSQSBackend()
	if _, err := b.Send(context.Background(), "nope", nil, 0); err == nil {
		t.Fatalf("expected error for unconfigured queue")
	}
}

func TestSQSBackend_QueueForARN(t *testing.T) {
	b, _ := newTestSQSBackend()
	q, ok := b.QueueForARN("arn:aws:sqs:us-east-1:123456789012:payment-processing")
	if !ok || q != PaymentProcessing {
		t.Fatalf("expected %s, got %q (%v)", PaymentProcessing, q, ok)
	}
	if _, ok := b.QueueForARN("arn:aws:sqs:us-east-1:123456789012:other"); ok {
		t.Fatalf("expected no match")
	}
}
