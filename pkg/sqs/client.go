// Package sqs sends, drains and deletes messages on named SQS queues.
package sqs

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/resilience"
)

// API is the subset of the SQS client used here.
type API interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Attribute is a string message attribute.
type Attribute struct {
	DataType    string `json:"DataType"`
	StringValue string `json:"StringValue"`
}

// StringAttribute returns a String-typed attribute.
func StringAttribute(v string) Attribute {
	return Attribute{DataType: "String", StringValue: v}
}

// Message is a received message.
type Message struct {
	ID            string               `json:"MessageId"`
	ReceiptHandle string               `json:"ReceiptHandle"`
	Body          string               `json:"Body"`
	Attributes    map[string]Attribute `json:"MessageAttributes"`
}

// Client defines queue operations by queue name.
type Client interface {
	// Send publishes body with attrs and returns the message id.
	Send(ctx context.Context, queue string, attrs map[string]Attribute, body string) (string, error)
	// Receive drains the queue, polling until a poll returns no messages.
	Receive(ctx context.Context, queue string) ([]Message, error)
	// Delete removes a received message.
	Delete(ctx context.Context, queue, receiptHandle string) error
}

// Option configures the client.
type Option func(*client)

// WithRetry sets the retry policy for sends and deletes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

// WithWaitTime sets the long-poll wait per receive call in seconds.
func WithWaitTime(seconds int32) Option {
	return func(c *client) { c.waitSeconds = seconds }
}

// WithVisibilityTimeout hides received messages for the given seconds so a
// long drain does not see them twice.
func WithVisibilityTimeout(seconds int32) Option {
	return func(c *client) { c.visibility = seconds }
}

type client struct {
	api         API
	retry       resilience.RetryConfig
	waitSeconds int32
	visibility  int32

	mu   sync.Mutex
	urls map[string]string
}

// New creates a Client over api.
func New(api API, opts ...Option) Client {
	c := &client{
		api:   api,
		retry: resilience.DefaultRetryConfig(),
		urls:  make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// queueURL resolves a queue name once and caches the URL.
func (c *client) queueURL(ctx context.Context, queue string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u, ok := c.urls[queue]; ok {
		return u, nil
	}
	out, err := c.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", eris.Wrapf(err, "sqs: get queue url %s", queue)
	}
	u := aws.ToString(out.QueueUrl)
	c.urls[queue] = u
	return u, nil
}

func (c *client) Send(ctx context.Context, queue string, attrs map[string]Attribute, body string) (string, error) {
	u, err := c.queueURL(ctx, queue)
	if err != nil {
		return "", err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(u),
		MessageBody:       aws.String(body),
		MessageAttributes: make(map[string]types.MessageAttributeValue, len(attrs)),
	}
	for k, a := range attrs {
		in.MessageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String(a.DataType),
			StringValue: aws.String(a.StringValue),
		}
	}

	out, err := resilience.DoVal(ctx, c.retry.WithLogger("sqs", "send"), func(ctx context.Context) (*sqs.SendMessageOutput, error) {
		return c.api.SendMessage(ctx, in)
	})
	if err != nil {
		return "", eris.Wrapf(err, "sqs: send to %s", queue)
	}
	zap.L().Debug("sqs: message sent", zap.String("queue", queue), zap.String("message_id", aws.ToString(out.MessageId)))
	return aws.ToString(out.MessageId), nil
}

func (c *client) Receive(ctx context.Context, queue string) ([]Message, error) {
	u, err := c.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	// seen maps a message ID to its index in msgs
	seen := make(map[string]int)
	var msgs []Message
	for {
		out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(u),
			MaxNumberOfMessages:   10,
			MessageAttributeNames: []string{"All"},
			WaitTimeSeconds:       c.waitSeconds,
			VisibilityTimeout:     c.visibility,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "sqs: receive from %s", queue)
		}
		if len(out.Messages) == 0 {
			break
		}

		fresh := 0
		for _, m := range out.Messages {
			id := aws.ToString(m.MessageId)
			// a redelivery invalidates the earlier receipt handle
			if i, ok := seen[id]; ok {
				msgs[i].ReceiptHandle = aws.ToString(m.ReceiptHandle)
				continue
			}
			seen[id] = len(msgs)
			fresh++
			msgs = append(msgs, fromSDK(m))
		}
		// a poll of only redelivered messages means the queue has been drained
		if fresh == 0 {
			break
		}
	}
	zap.L().Debug("sqs: queue drained", zap.String("queue", queue), zap.Int("messages", len(msgs)))
	return msgs, nil
}

func (c *client) Delete(ctx context.Context, queue, receiptHandle string) error {
	u, err := c.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	err = resilience.Do(ctx, c.retry.WithLogger("sqs", "delete"), func(ctx context.Context) error {
		_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(u),
			ReceiptHandle: aws.String(receiptHandle),
		})
		return err
	})
	return eris.Wrapf(err, "sqs: delete from %s", queue)
}

func fromSDK(m types.Message) Message {
	msg := Message{
		ID:            aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Body:          aws.ToString(m.Body),
		Attributes:    make(map[string]Attribute, len(m.MessageAttributes)),
	}
	for k, v := range m.MessageAttributes {
		msg.Attributes[k] = Attribute{
			DataType:    aws.ToString(v.DataType),
			StringValue: aws.ToString(v.StringValue),
		}
	}
	return msg
}
