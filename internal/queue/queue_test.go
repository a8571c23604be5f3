package queue

import (
	"context"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/backend-burger/worker/internal/job"
)

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *mockSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *mockSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ChangeMessageVisibilityOutput), args.Error(1)
}

func (m *mockSQS) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.GetQueueUrlOutput), args.Error(1)
}

func (m *mockSQS) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.GetQueueAttributesOutput), args.Error(1)
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.SendMessageOutput), args.Error(1)
}

func TestNew_ResolvesQueueURL(t *testing.T) {
	api := &mockSQS{}
	api.On("GetQueueUrl", mock.Anything, mock.MatchedBy(func(in *sqs.GetQueueUrlInput) bool {
		return *in.QueueName == "backend-burger"
	})).Return(&sqs.GetQueueUrlOutput{QueueUrl: sdkaws.String("https://sqs.example/backend-burger")}, nil)

	c, err := New(context.Background(), api, "backend-burger")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.example/backend-burger", c.URL())
}

func TestReceive_MapsMessages(t *testing.T) {
	api := &mockSQS{}
	api.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return in.MaxNumberOfMessages == 10 && in.WaitTimeSeconds == 20
	})).Return(&sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			{
				Body:          sdkaws.String(`{"id":"job-1","kind":"flush_logs"}`),
				ReceiptHandle: sdkaws.String("rh-1"),
				Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
			},
			{
				Body:          sdkaws.String(`{}`),
				ReceiptHandle: sdkaws.String("rh-2"),
			},
		},
	}, nil)

	c := NewWithURL(api, "https://sqs.example/q")
	msgs, err := c.Receive(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)
	assert.Equal(t, 3, msgs[0].ReceiveCount)
	assert.Equal(t, 1, msgs[1].ReceiveCount, "missing receive count defaults to first delivery")
}

func TestDelete_StaleHandleIsBenign(t *testing.T) {
	api := &mockSQS{}
	api.On("DeleteMessage", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "ReceiptHandleIsInvalid", Message: "expired"})

	c := NewWithURL(api, "https://sqs.example/q")
	assert.NoError(t, c.Delete(context.Background(), "stale"))
}

func TestDelete_OtherErrorsSurface(t *testing.T) {
	api := &mockSQS{}
	api.On("DeleteMessage", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "InternalError", Message: "boom"})

	c := NewWithURL(api, "https://sqs.example/q")
	assert.Error(t, c.Delete(context.Background(), "rh"))
}

func TestStats(t *testing.T) {
	api := &mockSQS{}
	api.On("GetQueueAttributes", mock.Anything, mock.Anything).Return(&sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{
			"ApproximateNumberOfMessages":           "12",
			"ApproximateNumberOfMessagesNotVisible": "4",
			"ApproximateNumberOfMessagesDelayed":    "1",
		},
	}, nil)

	c := NewWithURL(api, "https://sqs.example/q")
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Available: 12, InFlight: 4, Delayed: 1}, stats)
}

func TestSend_EncodesJobEnvelope(t *testing.T) {
	api := &mockSQS{}
	var sentBody string
	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		sentBody = *in.MessageBody
		return true
	})).Return(&sqs.SendMessageOutput{}, nil)

	c := NewWithURL(api, "https://sqs.example/q")
	err := c.Send(context.Background(), &job.Job{ID: "job-1", Kind: "flush_logs"}, map[string]string{"trace": "abc"})
	require.NoError(t, err)
	assert.Contains(t, sentBody, `"id":"job-1"`)
	assert.Contains(t, sentBody, `"kind":"flush_logs"`)
}
