package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const sqsDefaultRegion = "us-east-1"

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSClient sends queue messages to AWS SQS.
type SQSClient struct {
	client   sqsAPI
	queueURL string
}

// NewSQSClient constructs an SQS-backed queue client.
func NewSQSClient(ctx context.Context, region, queueURL string) (*SQSClient, error) {
	api, err := newSQSAPI(ctx, region)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	return &SQSClient{client: api, queueURL: queueURL}, nil
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// SQSSource receives queue messages from AWS SQS.
type SQSSource struct {
	client            sqsAPI
	queueURL          string
	visibilitySeconds int32
}

// NewSQSSource constructs an SQS-backed queue source.
func NewSQSSource(ctx context.Context, region, queueURL string, visibilitySeconds int) (*SQSSource, error) {
	api, err := newSQSAPI(ctx, region)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	if visibilitySeconds <= 0 {
		visibilitySeconds = 1200
	}
	return &SQSSource{
		client:            api,
		queueURL:          queueURL,
		visibilitySeconds: int32(visibilitySeconds),
	}, nil
}

func (s *SQSSource) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	if max > 10 {
		max = 10
	}
	waitSeconds := int32(wait / time.Second)
	if waitSeconds < 0 {
		waitSeconds = 0
	}
	if waitSeconds > 20 {
		waitSeconds = 20
	}

	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   s.visibilitySeconds,
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	deliveries := make([]Delivery, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		deliveries = append(deliveries, Delivery{
			Receipt:      aws.ToString(msg.ReceiptHandle),
			Body:         aws.ToString(msg.Body),
			ReceiveCount: sqsReceiveCount(msg),
		})
	}
	return deliveries, nil
}

func (s *SQSSource) Delete(ctx context.Context, d Delivery) error {
	if strings.TrimSpace(d.Receipt) == "" {
		return fmt.Errorf("missing receipt handle")
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(d.Receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

func (s *SQSSource) Release(ctx context.Context, d Delivery, delay time.Duration) error {
	if strings.TrimSpace(d.Receipt) == "" {
		return fmt.Errorf("missing receipt handle")
	}
	delaySeconds := int32(delay / time.Second)
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	// SQS caps visibility changes at 12 hours.
	if delaySeconds > 43200 {
		delaySeconds = 43200
	}
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     aws.String(d.Receipt),
		VisibilityTimeout: delaySeconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

func newSQSAPI(ctx context.Context, region string) (sqsAPI, error) {
	if strings.TrimSpace(region) == "" {
		region = sqsDefaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

func sqsReceiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var (
	_ Client = (*SQSClient)(nil)
	_ Source = (*SQSSource)(nil)
)
