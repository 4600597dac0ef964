package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"gopkg.in/yaml.v3"
)

// ErrParameterNotFound is returned when a named parameter does not exist.
var ErrParameterNotFound = errors.New("parameter not found")

// ParameterStore looks up configuration values and secrets by name.
type ParameterStore interface {
	Get(ctx context.Context, name string) (string, error)
}

// SSMClient abstracts the SSM operations used by SSMStore.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMStore reads parameters from AWS Systems Manager Parameter Store.
type SSMStore struct {
	client SSMClient
}

// NewSSMStore creates a new SSMStore.
func NewSSMStore(client SSMClient) *SSMStore {
	return &SSMStore{client: client}
}

// Get returns the decrypted value of the named parameter.
func (s *SSMStore) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrParameterNotFound, name)
		}
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}
	return *out.Parameter.Value, nil
}

// FileStore serves parameters from a YAML document. Nested mappings are
// flattened into slash separated names, so
//
//	inbound-sync:
//	  mail:
//	    host: imap.example.com
//
// answers the name "/inbound-sync/mail/host".
type FileStore struct {
	values map[string]string
}

// LoadFileStore reads and flattens the YAML file at path.
func LoadFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFileStore(data)
}

// ParseFileStore flattens a YAML document into a FileStore.
func ParseFileStore(data []byte) (*FileStore, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse parameter file: %w", err)
	}
	values := make(map[string]string)
	flatten("", doc, values)
	return &FileStore{values: values}, nil
}

// Get returns the value stored under name.
func (f *FileStore) Get(_ context.Context, name string) (string, error) {
	v, ok := f.values[strings.Trim(name, "/")]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}
	return v, nil
}

// Names returns every parameter name held by the store, sorted.
func (f *FileStore) Names() []string {
	names := make([]string, 0, len(f.values))
	for k := range f.values {
		names = append(names, "/"+k)
	}
	sort.Strings(names)
	return names
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := strings.Trim(k, "/")
		if prefix != "" {
			key = prefix + "/" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
