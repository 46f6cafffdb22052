// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"testing"
	"testing/fstest"
)

func TestLoadSortsAndChecksums(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_indexes.sql": {Data: []byte("CREATE INDEX b;")},
		"0001_runs.sql":    {Data: []byte("CREATE TABLE a;")},
		"README.md":        {Data: []byte("ignored")},
	}

	files, err := load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 || files[0].Name != "0001_runs.sql" || files[1].Name != "0002_indexes.sql" {
		t.Fatalf("unexpected files %+v", files)
	}
	if len(files[0].Checksum) != 64 || files[0].Checksum == files[1].Checksum {
		t.Fatalf("unexpected checksums %q %q", files[0].Checksum, files[1].Checksum)
	}
}

func TestOrderedIncludesRunsSchema(t *testing.T) {
	files, err := Ordered()
	if err != nil {
		t.Fatalf("ordered: %v", err)
	}
	if len(files) == 0 || files[0].Name != "0001_runs.sql" {
		t.Fatalf("expected 0001_runs.sql first, got %+v", files)
	}
}
