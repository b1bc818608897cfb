// Package sink exports vault secrets to external secret stores.
package sink

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
)

// Sink receives a namespace's exported secrets. Apply replaces whatever the
// namespace held before.
type Sink interface {
	Apply(ctx context.Context, namespace string, data map[string]string) error
}

// Encode converts vault keys and values to the exported form: dots in keys
// become underscores and values are base64 encoded.
func Encode(secrets map[string]string) map[string]string {
	out := make(map[string]string, len(secrets))
	for k, v := range secrets {
		out[strings.ReplaceAll(k, ".", "_")] = base64.StdEncoding.EncodeToString([]byte(v))
	}
	return out
}

// Memory keeps applied namespaces in memory.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Apply(_ context.Context, namespace string, data map[string]string) error {
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	m.mu.Lock()
	m.data[namespace] = copied
	m.mu.Unlock()
	return nil
}

// Namespace returns what was last applied to namespace.
func (m *Memory) Namespace(namespace string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[namespace]
}
