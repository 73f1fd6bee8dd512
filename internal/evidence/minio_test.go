//go:build integration

package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/ipenforcer/internal/config"
)

func TestMinioStore(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "ipenforcer",
				"MINIO_ROOT_PASSWORD": "ipenforcer-secret",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	store, err := New(ctx, config.EvidenceConfig{
		Type: "s3",
		S3: config.S3Config{
			Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
			AccessKey: "ipenforcer",
			SecretKey: "ipenforcer-secret",
			Bucket:    "evidence-test",
		},
	}, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	data := []byte("%PDF-1.4 contract")
	ref, err := store.Put(ctx, "contract.pdf", "application/pdf", data)
	require.NoError(t, err)
	assert.Equal(t, Ref(data), ref)

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Get(ctx, Ref([]byte("absent")))
	assert.ErrorIs(t, err, ErrNotFound)
}
