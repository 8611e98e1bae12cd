package emulators

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

// ====================================================================================
// Containerized emulators for integration tests. Each setup function starts a
// container, wires a client against it and returns a cleanup closure.
// ====================================================================================

const (
	gcsEmulatorImage = "fsouza/fake-gcs-server:1.47.4"
	gcsEmulatorPort  = "4443"
)

// GCSConfig configures the storage emulator.
type GCSConfig struct {
	ProjectID string

	// Buckets are created after the emulator is up.
	Buckets []string
}

// SetupGCSEmulator starts a fake GCS server, creates the requested buckets and
// returns a client pointed at it.
func SetupGCSEmulator(t *testing.T, ctx context.Context, cfg GCSConfig) (*storage.Client, func()) {
	t.Helper()

	httpPort := fmt.Sprintf("%s/tcp", gcsEmulatorPort)
	req := testcontainers.ContainerRequest{
		Image:        gcsEmulatorImage,
		ExposedPorts: []string{httpPort},
		Cmd:          []string{"-scheme", "http"},
		WaitingFor: wait.ForHTTP("/storage/v1/b").WithPort(nat.Port(httpPort)).WithStatusCodeMatcher(
			func(status int) bool {
				return status > 0
			}).WithStartupTimeout(20 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	t.Setenv("STORAGE_EMULATOR_HOST", endpoint)

	client, err := storage.NewClient(ctx, option.WithoutAuthentication(), option.WithEndpoint(os.Getenv("STORAGE_EMULATOR_HOST")))
	require.NoError(t, err)

	for _, bucket := range cfg.Buckets {
		require.NoError(t, client.Bucket(bucket).Create(ctx, cfg.ProjectID, nil))
	}

	return client, func() {
		_ = client.Close()
		require.NoError(t, container.Terminate(ctx))
	}
}
