package emulators

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

const (
	bigQueryEmulatorImage = "ghcr.io/goccy/bigquery-emulator:0.6.6"
	bigQueryRestPort      = "9050"
	bigQueryGRPCPort      = "9060"
)

// BigQueryConfig configures the warehouse emulator.
type BigQueryConfig struct {
	ProjectID string

	// Datasets to create after the emulator is up.
	Datasets []string
}

// SetupBigQueryEmulator starts a BigQuery emulator, creates the requested
// datasets and returns client options pointed at it.
func SetupBigQueryEmulator(t *testing.T, ctx context.Context, cfg BigQueryConfig) ([]option.ClientOption, func()) {
	t.Helper()

	httpPort := fmt.Sprintf("%s/tcp", bigQueryRestPort)
	grpcPort := fmt.Sprintf("%s/tcp", bigQueryGRPCPort)
	req := testcontainers.ContainerRequest{
		Image:        bigQueryEmulatorImage,
		ExposedPorts: []string{httpPort, grpcPort},
		Cmd: []string{
			"--project=" + cfg.ProjectID,
			"--port=" + bigQueryRestPort,
			"--grpc-port=" + bigQueryGRPCPort,
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(nat.Port(httpPort)).WithStartupTimeout(60*time.Second),
			wait.ForListeningPort(nat.Port(grpcPort)).WithStartupTimeout(60*time.Second),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedRestPort, err := container.MappedPort(ctx, nat.Port(httpPort))
	require.NoError(t, err)

	endpoint := fmt.Sprintf("http://%s:%s", host, mappedRestPort.Port())
	opts := []option.ClientOption{
		option.WithEndpoint(endpoint),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{}),
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	require.NoError(t, err)
	defer func() {
		_ = client.Close()
	}()

	for _, dataset := range cfg.Datasets {
		err := client.Dataset(dataset).Create(ctx, &bigquery.DatasetMetadata{Name: dataset})
		if err != nil && !strings.Contains(err.Error(), "Already Exists") {
			require.NoError(t, err)
		}
	}

	return opts, func() { require.NoError(t, container.Terminate(ctx)) }
}
