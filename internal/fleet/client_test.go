package fleet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/homelab/sentinel/pkg/contracts"
)

func TestNewClientRequiresHostIDAndAddress(t *testing.T) {
	_, err := NewClient("", Config{Address: "localhost:9000"}, nil)
	assert.Error(t, err)

	_, err = NewClient("rpi-4", Config{}, nil)
	assert.Error(t, err)
}

func TestNewClientDialsLazily(t *testing.T) {
	c, err := NewClient("rpi-4", Config{Address: "localhost:9000"}, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	t.Cleanup(func() { _ = c.Close() })
}

func TestDecodeRemoteCommandResult(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"success":     true,
		"stdout":      "ok",
		"stderr":      "",
		"duration_ms": 42.0,
		"exit_code":   0.0,
	})
	require.NoError(t, err)

	result := decodeRemoteCommandResult(s)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Stdout)
	assert.Equal(t, int64(42), result.DurationMs)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
}

func TestRegistryRunCommandUnknownHost(t *testing.T) {
	r := NewRegistry(Config{}, map[string]string{"rpi-4": "localhost:9000"}, nil)
	t.Cleanup(func() { _ = r.Close() })

	_, err := r.RunCommand(context.Background(), contracts.RemoteCommandRequest{HostID: "unknown-host"})
	assert.Error(t, err)
}

func TestRegistryCachesClientPerHost(t *testing.T) {
	r := NewRegistry(Config{}, map[string]string{"rpi-4": "localhost:9000"}, nil)
	t.Cleanup(func() { _ = r.Close() })

	c1, err := r.clientFor("rpi-4")
	require.NoError(t, err)
	c2, err := r.clientFor("rpi-4")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}
