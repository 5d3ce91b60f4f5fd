// Package config loads the cluster-controller's settings (spec §6) via
// viper, bound to cobra flags the way the teacher binds cobra flags
// directly — except settings here also accept CLUSTER_CONTROLLER_*
// environment variables, which is what viper buys over the teacher's
// bare pflag reads. No config file is read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the fully resolved settings tree for one cluster-controller
// process, bound 1:1 to the key table in spec §6.
type Config struct {
	UDS       UDSConfig
	Messaging MessagingConfig
	Cluster   ClusterConfig
	LogLevel  string
	LogJSON   bool
}

// UDSConfig is the "uds/*" key group.
type UDSConfig struct {
	SocketPath       string
	ConnectSleepTime time.Duration
	SendQueueSize    int
	ClientID         string
}

// MessagingConfig is the "messaging/*" key group.
type MessagingConfig struct {
	MqttBrokerURL          string
	MqttKeepAlive          time.Duration
	MqttReconnectDelay     time.Duration
	MqttReconnectMaxDelay  time.Duration
	MqttExponentialBackoff bool
	MqttGbid               string
	TTLUplift              time.Duration
}

// ClusterConfig is the "cluster-controller/*" key group.
type ClusterConfig struct {
	SubscriptionsPersistenceFilename string
	MessagesPersistenceFilename      string
}

// BindFlags registers every setting as a persistent flag on cmd and
// binds it into v, so CLI flags and CLUSTER_CONTROLLER_*-prefixed
// environment variables resolve through the same precedence
// (flag > env > default).
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()

	flags.String("uds-socket-path", "/var/run/joynr/cluster-controller.sock", "UDS socket file path")
	flags.Int("uds-connect-sleep-time-ms", 500, "retry delay between failed UDS connect attempts, in milliseconds")
	flags.Int("uds-sending-queue-size", 1024, "per-connection UDS send-queue capacity (0 selects the UDS server's default of 100)")
	flags.String("uds-client-id", "", "unique identifier sent in the UDS init frame (random UUID if empty)")

	flags.String("mqtt-broker-url", "tcp://localhost:1883", "MQTT broker URL")
	flags.Int("mqtt-keep-alive-time-seconds", 30, "MQTT keepalive interval, in seconds")
	flags.Int("mqtt-reconnect-delay-seconds", 1, "MQTT reconnect delay, in seconds")
	flags.Int("mqtt-reconnect-max-delay-seconds", 60, "MQTT reconnect delay cap, in seconds")
	flags.Bool("mqtt-exponential-backoff-enabled", true, "double the MQTT reconnect delay on each attempt up to the cap")
	flags.String("mqtt-gbid", "joynrdefaultgbid", "default broker-group id used for outbound MQTT addressing")
	flags.Int("messaging-ttl-uplift-ms", 0, "publication and subscription-reply TTL uplift, in milliseconds")

	flags.String("cluster-controller-subscriptions-persistence-filename", "", "bbolt file backing subscription persistence (empty disables persistence)")
	flags.String("cluster-controller-messages-persistence-filename", "", "bbolt file opened for message persistence; the message queue keeps messages in memory only and never writes to it")

	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output logs in JSON format")

	v.SetEnvPrefix("cluster_controller")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{
		"uds-socket-path", "uds-connect-sleep-time-ms", "uds-sending-queue-size", "uds-client-id",
		"mqtt-broker-url", "mqtt-keep-alive-time-seconds", "mqtt-reconnect-delay-seconds",
		"mqtt-reconnect-max-delay-seconds", "mqtt-exponential-backoff-enabled", "mqtt-gbid",
		"messaging-ttl-uplift-ms",
		"cluster-controller-subscriptions-persistence-filename", "cluster-controller-messages-persistence-filename",
		"log-level", "log-json",
	} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
}

// Load reads every bound setting out of v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		UDS: UDSConfig{
			SocketPath:       v.GetString("uds-socket-path"),
			ConnectSleepTime: time.Duration(v.GetInt("uds-connect-sleep-time-ms")) * time.Millisecond,
			SendQueueSize:    v.GetInt("uds-sending-queue-size"),
			ClientID:         v.GetString("uds-client-id"),
		},
		Messaging: MessagingConfig{
			MqttBrokerURL:          v.GetString("mqtt-broker-url"),
			MqttKeepAlive:          time.Duration(v.GetInt("mqtt-keep-alive-time-seconds")) * time.Second,
			MqttReconnectDelay:     time.Duration(v.GetInt("mqtt-reconnect-delay-seconds")) * time.Second,
			MqttReconnectMaxDelay:  time.Duration(v.GetInt("mqtt-reconnect-max-delay-seconds")) * time.Second,
			MqttExponentialBackoff: v.GetBool("mqtt-exponential-backoff-enabled"),
			MqttGbid:               v.GetString("mqtt-gbid"),
			TTLUplift:              time.Duration(v.GetInt("messaging-ttl-uplift-ms")) * time.Millisecond,
		},
		Cluster: ClusterConfig{
			SubscriptionsPersistenceFilename: v.GetString("cluster-controller-subscriptions-persistence-filename"),
			MessagesPersistenceFilename:      v.GetString("cluster-controller-messages-persistence-filename"),
		},
		LogLevel: v.GetString("log-level"),
		LogJSON:  v.GetBool("log-json"),
	}
	if cfg.UDS.SendQueueSize < 0 {
		return nil, fmt.Errorf("config: uds-sending-queue-size must be >= 0, got %d", cfg.UDS.SendQueueSize)
	}
	return cfg, nil
}
