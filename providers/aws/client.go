package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"collab-jobs/core/audit"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client the audit sink uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AuditSink publishes audit records to an SQS queue consumed by the audit store
type AuditSink struct {
	client   SQSAPI
	queueURL string
}

// NewAuditSink loads the default AWS configuration and builds an SQS-backed sink
func NewAuditSink(ctx context.Context, region, queueURL string) (*AuditSink, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAuditSinkWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewAuditSinkWithClient builds a sink over an existing client
func NewAuditSinkWithClient(client SQSAPI, queueURL string) *AuditSink {
	return &AuditSink{client: client, queueURL: queueURL}
}

// Record implements audit.Sink
func (s *AuditSink) Record(ctx context.Context, rec audit.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send audit record: %w", err)
	}
	return nil
}
