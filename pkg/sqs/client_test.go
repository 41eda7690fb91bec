package sqs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dspace-submission-composer/internal/resilience"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*sqs.GetQueueUrlOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*sqs.SendMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*sqs.ReceiveMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*sqs.DeleteMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

const queueURL = "https://sqs.us-east-1.amazonaws.com/123/dss-input"

func newTestClient(api *mockAPI) Client {
	api.On("GetQueueUrl", mock.Anything, mock.MatchedBy(func(in *sqs.GetQueueUrlInput) bool {
		return aws.ToString(in.QueueName) == "dss-input"
	})).Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(queueURL)}, nil).Once()
	return New(api, WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}))
}

func sdkMessage(id, body string) types.Message {
	return types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"PackageID": {DataType: aws.String("String"), StringValue: aws.String("item-" + id)},
		},
	}
}

func TestSend(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)

	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		a := in.MessageAttributes["PackageID"]
		return aws.ToString(in.QueueUrl) == queueURL &&
			aws.ToString(in.MessageBody) == `{"a":1}` &&
			aws.ToString(a.DataType) == "String" &&
			aws.ToString(a.StringValue) == "item-1"
	})).Return(&sqs.SendMessageOutput{MessageId: aws.String("abcd")}, nil).Twice()

	for range 2 {
		id, err := c.Send(context.Background(), "dss-input", map[string]Attribute{"PackageID": StringAttribute("item-1")}, `{"a":1}`)
		require.NoError(t, err)
		assert.Equal(t, "abcd", id)
	}
	// queue url resolved once
	api.AssertExpectations(t)
}

func TestSendError(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)
	api.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()

	_, err := c.Send(context.Background(), "dss-input", nil, "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	api.AssertExpectations(t)
}

func TestSendRetriesTransient(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)
	api.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("throttled"), 429)).Once()
	api.On("SendMessage", mock.Anything, mock.Anything).
		Return(&sqs.SendMessageOutput{MessageId: aws.String("m2")}, nil).Once()

	id, err := c.Send(context.Background(), "dss-input", nil, "{}")
	require.NoError(t, err)
	assert.Equal(t, "m2", id)
}

func TestReceiveDrains(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)

	api.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return in.MaxNumberOfMessages == 10 && len(in.MessageAttributeNames) == 1
	})).Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{sdkMessage("1", "a"), sdkMessage("2", "b")}}, nil).Once()
	api.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{sdkMessage("3", "c")}}, nil).Once()
	api.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{}, nil).Once()

	msgs, err := c.Receive(context.Background(), "dss-input")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{
		ID:            "1",
		ReceiptHandle: "rh-1",
		Body:          "a",
		Attributes:    map[string]Attribute{"PackageID": {DataType: "String", StringValue: "item-1"}},
	}, msgs[0])
	api.AssertExpectations(t)
}

func TestReceiveStopsOnRedelivery(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)

	api.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{sdkMessage("1", "a")}}, nil).Twice()

	msgs, err := c.Receive(context.Background(), "dss-input")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	api.AssertExpectations(t)
}

func TestReceiveKeepsLatestReceiptHandle(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)

	redelivered := sdkMessage("1", "a")
	redelivered.ReceiptHandle = aws.String("rh-1-again")
	api.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{sdkMessage("1", "a"), sdkMessage("2", "b")}}, nil).Once()
	api.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{redelivered}}, nil).Once()

	msgs, err := c.Receive(context.Background(), "dss-input")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "rh-1-again", msgs[0].ReceiptHandle)
	assert.Equal(t, "rh-2", msgs[1].ReceiptHandle)
	api.AssertExpectations(t)
}

func TestReceiveError(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)
	api.On("ReceiveMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	_, err := c.Receive(context.Background(), "dss-input")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(api)
	api.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "rh-1" && aws.ToString(in.QueueUrl) == queueURL
	})).Return(&sqs.DeleteMessageOutput{}, nil).Once()

	require.NoError(t, c.Delete(context.Background(), "dss-input", "rh-1"))
	api.AssertExpectations(t)
}

func TestQueueURLError(t *testing.T) {
	api := &mockAPI{}
	api.On("GetQueueUrl", mock.Anything, mock.Anything).Return(nil, errors.New("no such queue"))
	c := New(api)

	_, err := c.Send(context.Background(), "missing", nil, "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get queue url missing")
}
