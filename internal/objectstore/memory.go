// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"sort"
	"sync"
)

type Object struct {
	ContentType string
	Body        []byte
}

// Memory keeps objects in process. Used in dev mode and tests.
type Memory struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]Object
}

func NewMemory(bucket string) *Memory {
	if bucket == "" {
		bucket = "memory"
	}
	return &Memory{bucket: bucket, objects: make(map[string]Object)}
}

func (m *Memory) Put(_ context.Context, key, contentType string, body []byte) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[clean] = Object{ContentType: contentType, Body: append([]byte(nil), body...)}
	return "mem://" + m.bucket + "/" + clean, nil
}

func (m *Memory) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
