package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindFlags(cmd, v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/var/run/joynr/cluster-controller.sock", cfg.UDS.SocketPath)
	assert.Equal(t, 500*time.Millisecond, cfg.UDS.ConnectSleepTime)
	assert.Equal(t, 1024, cfg.UDS.SendQueueSize)
	assert.Equal(t, time.Duration(0), cfg.Messaging.TTLUplift)
}

func TestLoadRejectsNegativeSendQueueSize(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindFlags(cmd, v)
	require.NoError(t, cmd.PersistentFlags().Set("uds-sending-queue-size", "-1"))

	_, err := Load(v)
	assert.Error(t, err)
}

func TestEnvironmentVariableOverridesDefault(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindFlags(cmd, v)
	t.Setenv("CLUSTER_CONTROLLER_UDS_SOCKET_PATH", "/tmp/custom.sock")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.UDS.SocketPath)
}
