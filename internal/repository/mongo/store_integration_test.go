//go:build integration

// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/repository/storetest"
)

func TestMongoStoreIntegration(t *testing.T) {
	uri := strings.TrimSpace(os.Getenv("MONGO_URI"))
	if uri == "" {
		t.Skip("set MONGO_URI to run integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := Connect(ctx, uri)
	if err != nil {
		t.Skipf("skip integration test: mongo not reachable (%v)", err)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	db := client.Database("beleidsscan_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	defer func() {
		_ = db.Drop(context.Background())
	}()

	store := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}

	storetest.Run(t, store)
}
