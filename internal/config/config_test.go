package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// mapStore implements ParameterStore for testing.
type mapStore struct {
	values map[string]string
	calls  []string
}

func (m *mapStore) Get(_ context.Context, name string) (string, error) {
	m.calls = append(m.calls, name)
	v, ok := m.values[name]
	if !ok {
		return "", ErrParameterNotFound
	}
	return v, nil
}

func fullParams() map[string]string {
	return map[string]string{
		"/inbound-sync/mail/host":     "imap.example.com",
		"/inbound-sync/mail/port":     "993",
		"/inbound-sync/mail/tls":      "true",
		"/inbound-sync/mail/user":     "inbound@example.com",
		"/inbound-sync/mail/password": "secret",
		"/inbound-sync/db/host":       "db.example.com",
		"/inbound-sync/db/user":       "sync",
		"/inbound-sync/db/password":   "dbsecret",
		"/inbound-sync/db/name":       "mail",
	}
}

func envFunc(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestLoad_Defaults(t *testing.T) {
	store := &mapStore{values: fullParams()}

	cfg, err := Load(context.Background(), store, envFunc(map[string]string{"BUCKET_NAME": "mail-bucket"}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bucket != "mail-bucket" {
		t.Errorf("Bucket = %q, want %q", cfg.Bucket, "mail-bucket")
	}
	if cfg.Mailbox != "INBOX" {
		t.Errorf("Mailbox = %q, want %q", cfg.Mailbox, "INBOX")
	}
	if cfg.TrashFolder != "Trash" {
		t.Errorf("TrashFolder = %q, want %q", cfg.TrashFolder, "Trash")
	}
	if cfg.UploadConcurrency != DefaultUploadConcurrency {
		t.Errorf("UploadConcurrency = %d, want %d", cfg.UploadConcurrency, DefaultUploadConcurrency)
	}
	if cfg.LeaseTTL != DefaultLeaseTTL {
		t.Errorf("LeaseTTL = %v, want %v", cfg.LeaseTTL, DefaultLeaseTTL)
	}
	if cfg.Mail.Host != "imap.example.com" || cfg.Mail.Port != 993 || !cfg.Mail.TLS {
		t.Errorf("Mail = %+v, want imap.example.com:993 with TLS", cfg.Mail)
	}
	if cfg.DB.Port != DefaultDBPort {
		t.Errorf("DB.Port = %d, want %d", cfg.DB.Port, DefaultDBPort)
	}
	if cfg.DB.Name != "mail" {
		t.Errorf("DB.Name = %q, want %q", cfg.DB.Name, "mail")
	}
}

func TestLoad_MissingBucketFailsBeforeLookup(t *testing.T) {
	store := &mapStore{values: fullParams()}

	_, err := Load(context.Background(), store, envFunc(map[string]string{}))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("parameter store called %d times, want 0", len(store.calls))
	}
}

func TestLoad_MissingParameter(t *testing.T) {
	params := fullParams()
	delete(params, "/inbound-sync/db/password")
	store := &mapStore{values: params}

	_, err := Load(context.Background(), store, envFunc(map[string]string{"BUCKET_NAME": "b"}))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
	if !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("err = %v, want ErrParameterNotFound", err)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	params := fullParams()
	params["/inbound-sync/mail/port"] = "imaps"
	store := &mapStore{values: params}

	_, err := Load(context.Background(), store, envFunc(map[string]string{"BUCKET_NAME": "b"}))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	params := map[string]string{}
	for k, v := range fullParams() {
		params["/custom/"+k[len("/inbound-sync/"):]] = v
	}
	params["/custom/db/port"] = "6543"
	store := &mapStore{values: params}

	env := map[string]string{
		"BUCKET_NAME":        "b",
		"PARAMETER_PREFIX":   "/custom",
		"MAILBOX":            "Forwarded",
		"TRASH_FOLDER":       "Deleted Items",
		"UPLOAD_CONCURRENCY": "8",
		"ON_MESSAGE_ERROR":   "skip",
		"LEASE_TTL":          "2m",
		"REDIS_ADDR":         "localhost:6379",
	}
	cfg, err := Load(context.Background(), store, envFunc(env))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mailbox != "Forwarded" {
		t.Errorf("Mailbox = %q, want %q", cfg.Mailbox, "Forwarded")
	}
	if cfg.TrashFolder != "Deleted Items" {
		t.Errorf("TrashFolder = %q, want %q", cfg.TrashFolder, "Deleted Items")
	}
	if cfg.UploadConcurrency != 8 {
		t.Errorf("UploadConcurrency = %d, want 8", cfg.UploadConcurrency)
	}
	if cfg.ErrorPolicy != "skip" {
		t.Errorf("ErrorPolicy = %q, want %q", cfg.ErrorPolicy, "skip")
	}
	if cfg.LeaseTTL != 2*time.Minute {
		t.Errorf("LeaseTTL = %v, want 2m", cfg.LeaseTTL)
	}
	if cfg.DB.Port != 6543 {
		t.Errorf("DB.Port = %d, want 6543", cfg.DB.Port)
	}
}

func TestLoad_InvalidConcurrency(t *testing.T) {
	store := &mapStore{values: fullParams()}
	env := map[string]string{"BUCKET_NAME": "b", "UPLOAD_CONCURRENCY": "0"}

	_, err := Load(context.Background(), store, envFunc(env))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

// mockSSMClient implements SSMClient for testing.
type mockSSMClient struct {
	getFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (m *mockSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return m.getFunc(ctx, params, optFns...)
}

func TestSSMStore_Get(t *testing.T) {
	var captured *ssm.GetParameterInput
	client := &mockSSMClient{
		getFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			captured = params
			return &ssm.GetParameterOutput{
				Parameter: &types.Parameter{Value: aws.String("value-1")},
			}, nil
		},
	}

	got, err := NewSSMStore(client).Get(context.Background(), "/inbound-sync/mail/host")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "value-1" {
		t.Errorf("Get = %q, want %q", got, "value-1")
	}
	if captured.WithDecryption == nil || !*captured.WithDecryption {
		t.Error("WithDecryption should be true")
	}
	if *captured.Name != "/inbound-sync/mail/host" {
		t.Errorf("Name = %q, want %q", *captured.Name, "/inbound-sync/mail/host")
	}
}

func TestSSMStore_NotFound(t *testing.T) {
	client := &mockSSMClient{
		getFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			return nil, &types.ParameterNotFound{Message: aws.String("missing")}
		},
	}

	_, err := NewSSMStore(client).Get(context.Background(), "/x")
	if !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("err = %v, want ErrParameterNotFound", err)
	}
}

func TestSSMStore_OtherError(t *testing.T) {
	client := &mockSSMClient{
		getFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	_, err := NewSSMStore(client).Get(context.Background(), "/x")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrParameterNotFound) {
		t.Error("throttling should not be reported as not found")
	}
}

func TestFileStore_Nested(t *testing.T) {
	doc := []byte(`
inbound-sync:
  mail:
    host: imap.example.com
    port: 993
    tls: true
  db:
    name: mail
`)
	store, err := ParseFileStore(doc)
	if err != nil {
		t.Fatalf("ParseFileStore failed: %v", err)
	}

	tests := []struct {
		name string
		want string
	}{
		{"/inbound-sync/mail/host", "imap.example.com"},
		{"/inbound-sync/mail/port", "993"},
		{"/inbound-sync/mail/tls", "true"},
		{"inbound-sync/db/name", "mail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Get(context.Background(), tt.name)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Get = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := store.Get(context.Background(), "/inbound-sync/db/host"); !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("err = %v, want ErrParameterNotFound", err)
	}
	if n := len(store.Names()); n != 4 {
		t.Errorf("len(Names) = %d, want 4", n)
	}
}

func TestFileStore_LoadsIntoConfig(t *testing.T) {
	doc := []byte(`
inbound-sync:
  mail: {host: imap.example.com, port: 143, tls: false, user: u, password: p}
  db: {host: localhost, port: 5433, user: u, password: p, name: mail}
`)
	store, err := ParseFileStore(doc)
	if err != nil {
		t.Fatalf("ParseFileStore failed: %v", err)
	}

	cfg, err := Load(context.Background(), store, envFunc(map[string]string{"BUCKET_NAME": "b"}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mail.TLS {
		t.Error("Mail.TLS should be false")
	}
	if cfg.DB.Port != 5433 {
		t.Errorf("DB.Port = %d, want 5433", cfg.DB.Port)
	}
}
