package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ServerConfig{LogLevel: "DEBUG"}.ConfigureLogging())
	require.NoError(t, ServerConfig{}.ConfigureLogging())
	require.NoError(t, ServerConfig{LogLevel: " warn ", LogFormat: "console"}.ConfigureLogging())
}
