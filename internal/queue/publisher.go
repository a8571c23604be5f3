package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/backend-burger/worker/internal/job"
)

// Send enqueues a job envelope on the bound queue. attributes, if any, are
// attached as string message attributes.
func (c *Client) Send(ctx context.Context, j *job.Job, attributes map[string]string) error {
	body, err := j.Encode()
	if err != nil {
		return err
	}
	bodyStr := string(body)

	input := &sqs.SendMessageInput{
		QueueUrl:    &c.url,
		MessageBody: &bodyStr,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			v := v
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: &v,
			}
		}
		input.MessageAttributes = msgAttrs
	}

	if _, err := c.api.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
