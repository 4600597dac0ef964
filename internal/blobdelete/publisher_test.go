package blobdelete

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// mockSQSSender implements SQSSender for testing.
type mockSQSSender struct {
	sendFunc func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func (m *mockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, params, optFns...)
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSPublisher_PublishOrphans_Success(t *testing.T) {
	var capturedBody, capturedQueue string
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			capturedBody = *params.MessageBody
			capturedQueue = *params.QueueUrl
			return &sqs.SendMessageOutput{}, nil
		},
	}

	pub := NewSQSPublisher(mock, "https://sqs.example.com/orphans")
	keys := []string{"inbound/2025/3/alice/17408000000000.pdf", "inbound/2025/3/alice/17408000000001.png"}
	if err := pub.PublishOrphans(context.Background(), "mail-bucket", keys, "persist-failed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedQueue != "https://sqs.example.com/orphans" {
		t.Errorf("QueueUrl = %q, want %q", capturedQueue, "https://sqs.example.com/orphans")
	}

	var msg OrphanMessage
	if err := json.Unmarshal([]byte(capturedBody), &msg); err != nil {
		t.Fatalf("failed to parse message body: %v", err)
	}
	if msg.Bucket != "mail-bucket" {
		t.Errorf("Bucket = %q, want %q", msg.Bucket, "mail-bucket")
	}
	if len(msg.Keys) != 2 || msg.Keys[0] != keys[0] || msg.Keys[1] != keys[1] {
		t.Errorf("Keys = %v, want %v", msg.Keys, keys)
	}
	if msg.Reason != "persist-failed" {
		t.Errorf("Reason = %q, want %q", msg.Reason, "persist-failed")
	}
}

func TestSQSPublisher_PublishOrphans_SQSError(t *testing.T) {
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("sqs send failed")
		},
	}

	pub := NewSQSPublisher(mock, "https://sqs.example.com/orphans")
	if err := pub.PublishOrphans(context.Background(), "b", []string{"k"}, "upload-failed"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSQSPublisher_PublishOrphans_NoKeys(t *testing.T) {
	sendCalled := false
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			sendCalled = true
			return &sqs.SendMessageOutput{}, nil
		},
	}

	pub := NewSQSPublisher(mock, "https://sqs.example.com/orphans")
	for _, keys := range [][]string{nil, {}} {
		if err := pub.PublishOrphans(context.Background(), "b", keys, "upload-failed"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if sendCalled {
		t.Error("SQS should not be called without keys")
	}
}
