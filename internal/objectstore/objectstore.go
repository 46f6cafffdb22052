// SPDX-License-Identifier: Apache-2.0

// Package objectstore writes export files and ETL job requests to S3
// compatible storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists an object and returns a URI that locates it.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

var ErrDisabled = errors.New("object storage is disabled")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// CleanKey normalises an object key: no leading slash, no empty or dot
// segments.
func CleanKey(key string) (string, error) {
	parts := strings.Split(strings.TrimSpace(key), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("object key %q escapes its prefix", key)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return "", errors.New("object key is required")
	}
	return strings.Join(out, "/"), nil
}

// Disabled rejects every write. It stands in when no store is configured.
type Disabled struct{}

func (Disabled) Put(context.Context, string, string, []byte) (string, error) {
	return "", ErrDisabled
}
