// Package queue wraps the SQS consumer surface the worker needs: long-poll
// receive, acknowledge-by-delete, and visibility extension. No local state is
// kept between calls.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/backend-burger/worker/internal/aws"
)

// RawMessage is the delivery envelope handed to the worker loop. The loop owns
// it for the duration of one processing attempt and must delete it or let the
// visibility timeout expire, exactly once.
type RawMessage struct {
	ReceiptHandle string
	Body          []byte

	// ReceiveCount is SQS's ApproximateReceiveCount: 1 on first delivery.
	ReceiveCount int
}

// Stats is a point-in-time snapshot of queue depth.
type Stats struct {
	Available int
	InFlight  int
	Delayed   int
}

// Client is bound to a single queue URL.
type Client struct {
	api aws.SQSAPI
	url string
}

// New resolves the queue URL by name and returns a bound Client. Resolution
// doubles as the boot-time reachability probe: if the queue cannot be found
// the process should not start.
func New(ctx context.Context, api aws.SQSAPI, queueName string) (*Client, error) {
	out, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &queueName})
	if err != nil {
		return nil, fmt.Errorf("resolve queue %q: %w", queueName, err)
	}
	return &Client{api: api, url: *out.QueueUrl}, nil
}

// NewWithURL skips name resolution; used by tests.
func NewWithURL(api aws.SQSAPI, queueURL string) *Client {
	return &Client{api: api, url: queueURL}
}

// URL returns the resolved queue URL.
func (c *Client) URL() string { return c.url }

// Receive long-polls for up to waitSeconds and returns at most max messages.
func (c *Client) Receive(ctx context.Context, max, waitSeconds int32) ([]RawMessage, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.url,
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     waitSeconds,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	msgs := make([]RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		raw := RawMessage{ReceiveCount: 1}
		if m.ReceiptHandle != nil {
			raw.ReceiptHandle = *m.ReceiptHandle
		}
		if m.Body != nil {
			raw.Body = []byte(*m.Body)
		}
		if v, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				raw.ReceiveCount = n
			}
		}
		msgs = append(msgs, raw)
	}
	return msgs, nil
}

// Delete acknowledges a message. A handle that already expired or was already
// deleted is a benign no-op.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.url,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil && !isHandleGone(err) {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ExtendVisibility pushes back the redelivery deadline for a long-running job.
// A stale handle is a benign no-op, matching Delete.
func (c *Client) ExtendVisibility(ctx context.Context, receiptHandle string, seconds int32) error {
	_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &c.url,
		ReceiptHandle:     &receiptHandle,
		VisibilityTimeout: seconds,
	})
	if err != nil && !isHandleGone(err) {
		return fmt.Errorf("change visibility: %w", err)
	}
	return nil
}

// Stats fetches approximate queue depth counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	out, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: &c.url,
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue attributes: %w", err)
	}

	atoi := func(name sqstypes.QueueAttributeName) int {
		n, _ := strconv.Atoi(out.Attributes[string(name)])
		return n
	}
	return Stats{
		Available: atoi(sqstypes.QueueAttributeNameApproximateNumberOfMessages),
		InFlight:  atoi(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:   atoi(sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}, nil
}

// isHandleGone detects the SQS errors raised for expired or already-deleted
// receipt handles.
func isHandleGone(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ReceiptHandleIsInvalid", "InvalidParameterValue", "AWS.SimpleQueueService.MessageNotInflight":
		return true
	}
	return false
}
