package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/storage"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/storage/storagetest"
)

func TestParseLocation(t *testing.T) {
	for _, tc := range []struct {
		in      string
		bucket  string
		wantErr bool
	}{
		{in: "s3://probe-bundles/tests/abc", bucket: "probe-bundles"},
		{in: "s3://probe-bundles", bucket: "probe-bundles"},
		{in: "gs://other", wantErr: true},
		{in: "s3://", wantErr: true},
		{in: "", wantErr: true},
	} {
		bucket, err := storage.ParseLocation(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.bucket, bucket)
	}
}

func TestChildLoadValidates(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	mem := storagetest.New()
	mem.Seed(id, &directive.BlockStorageDirective{
		Bucket: "b",
		TopicDirectives: []directive.TopicDirective{
			{Topic: "o", Role: directive.RoleProducer},
			{Topic: "o", Role: directive.RoleConsumer},
		},
	})

	child := storage.NewChild(mem, zerolog.Nop())
	_, err := child.Load(ctx, id, "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Topic 'o' appears 2 times")
}

func TestChildLoadAndStore(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	mem := storagetest.New()
	mem.Seed(id, &directive.BlockStorageDirective{
		Bucket: "b",
		TopicDirectives: []directive.TopicDirective{
			{Topic: "orders", Role: directive.RoleProducer},
		},
	})

	child := storage.NewChild(mem, zerolog.Nop())
	bsd, err := child.Load(ctx, id, "b")
	require.NoError(t, err)
	assert.Len(t, bsd.TopicDirectives, 1)

	evidenceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(evidenceDir, "cucumber.json"), []byte(`{}`), 0o600))
	require.NoError(t, child.Store(ctx, id, "b", evidenceDir))
	assert.Contains(t, mem.Evidence(id), "cucumber.json")
}
