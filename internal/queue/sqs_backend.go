package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/imrishuroy/go-payflow/internal/aws"
)

// sqsMaxDelay is the DelaySeconds ceiling of SQS.
const sqsMaxDelay = 15 * time.Minute

// SQSBackend maps queue names onto SQS queue URLs.
type SQSBackend struct {
	client     aws.SQSAPI
	urls       map[string]string
	visibility time.Duration
}

func NewSQSBackend(client aws.SQSAPI, urls map[string]string, visibility time.Duration) *SQSBackend {
	return &SQSBackend{client: client, urls: urls, visibility: visibility}
}

func (b *SQSBackend) url(queue string) (string, error) {
	u, ok := b.urls[queue]
	if !ok || u == "" {
		return "", fmt.Errorf("no queue url configured for %q", queue)
	}
	return u, nil
}

// QueueForARN resolves a Lambda event source ARN to a queue name by matching
// the ARN's trailing queue name against the configured URLs.
func (b *SQSBackend) QueueForARN(arn string) (string, bool) {
	name := arn[strings.LastIndex(arn, ":")+1:]
	for q, u := range b.urls {
		if u[strings.LastIndex(u, "/")+1:] == name {
			return q, true
		}
	}
	return "", false
}

func (b *SQSBackend) Send(ctx context.Context, queue string, body []byte, delay time.Duration) (string, error) {
	u, err := b.url(queue)
	if err != nil {
		return "", err
	}
	if delay > sqsMaxDelay {
		delay = sqsMaxDelay
	}
	msg := string(body)
	input := &sqs.SendMessageInput{
		QueueUrl:     &u,
		MessageBody:  &msg,
		DelaySeconds: int32(delay / time.Second),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"queue": {
				DataType:    awsString("String"),
				StringValue: awsString(queue),
			},
		},
	}
	out, err := b.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

func (b *SQSBackend) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error) {
	u, err := b.url(queue)
	if err != nil {
		return nil, err
	}
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10
	}
	if wait > 20*time.Second {
		wait = 20 * time.Second
	}
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            &u,
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
	}
	if b.visibility > 0 {
		input.VisibilityTimeout = int32(b.visibility / time.Second)
	}
	out, err := b.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:      deref(m.MessageId),
			Body:    []byte(deref(m.Body)),
			Receipt: deref(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (b *SQSBackend) Delete(ctx context.Context, queue, receipt string) error {
	u, err := b.url(queue)
	if err != nil {
		return err
	}
	if _, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &u,
		ReceiptHandle: &receipt,
	}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (b *SQSBackend) Purge(ctx context.Context, queue string) error {
	u, err := b.url(queue)
	if err != nil {
		return err
	}
	if _, err := b.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: &u}); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	return nil
}

func (b *SQSBackend) MaxDelay() time.Duration { return sqsMaxDelay }

func awsString(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
