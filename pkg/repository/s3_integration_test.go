//go:build integration

package repository

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/version"
)

// setupMinIO starts a MinIO container and returns a repository over a
// fresh bucket
func setupMinIO(t *testing.T) *S3Repository {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start MinIO container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate MinIO container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	client, err := NewS3Client(ctx, Config{
		Name:      "minio",
		Type:      "s3",
		Bucket:    "artifacts",
		Region:    "us-east-1",
		Endpoint:  "http://" + host + ":" + port.Port(),
		PathStyle: true,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("artifacts")})
	require.NoError(t, err)

	repo := NewS3Repository("minio", client, "artifacts", "releases", t.TempDir(), nil)
	require.NoError(t, repo.Prepare(ctx))
	return repo
}

func TestS3Repository_RoundTrip_Integration(t *testing.T) {
	repo := setupMinIO(t)
	ctx := context.Background()

	for _, v := range []string{"1.0.0", "1.2.0"} {
		_, err := repo.Put(ctx, strings.NewReader("content "+v), PutOptions{
			Bsn:     "com.acme.util",
			Version: version.MustParse(v),
			Ext:     ".tgz",
		})
		require.NoError(t, err)
	}

	names, err := repo.List(ctx, "com.acme.*")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme.util"}, names)

	versions, err := repo.Versions(ctx, "com.acme.util")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.2.0", versions[1].String())

	blocker := download.NewBlocker()
	_, err = repo.Get(ctx, "com.acme.util", version.MustParse("1.2.0"), nil, blocker)
	require.NoError(t, err)
	file, err := blocker.FileContext(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "content 1.2.0", string(data))
}
