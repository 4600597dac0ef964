// Package blobdelete hands orphaned object keys to an async deletion queue.
package blobdelete

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// OrphanMessage is the SQS message body for one batch of orphaned objects.
type OrphanMessage struct {
	Bucket string   `json:"bucket"`
	Keys   []string `json:"keys"`
	Reason string   `json:"reason"`
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes orphaned object keys to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
	}
}

// PublishOrphans sends one message listing keys for deletion from bucket.
func (p *SQSPublisher) PublishOrphans(ctx context.Context, bucket string, keys []string, reason string) error {
	if len(keys) == 0 {
		return nil
	}

	body, err := json.Marshal(OrphanMessage{
		Bucket: bucket,
		Keys:   keys,
		Reason: reason,
	})
	if err != nil {
		return err
	}

	bodyStr := string(body)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
	})
	return err
}
