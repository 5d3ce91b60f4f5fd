// Package mqtt implements the MQTT connection abstraction spec §6 calls
// out as an external collaborator: publish, subscribe, unsubscribe,
// registerReceiveCallback, registerReadyToSendChangedCallback, backed by
// paho.mqtt.golang. It also implements router.Transport so the router can
// address participants whose next hop is an MQTT channel or a multicast
// topic.
package mqtt

import (
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/router"
	"github.com/bmwcarit/joynr-cc/internal/wireformat"
)

// ReceiveCallback is invoked for every message arriving on a subscribed
// topic.
type ReceiveCallback func(topic string, payload []byte)

// ReadyToSendChangedCallback is invoked whenever the connection's
// readiness to accept outbound publishes changes (broker (dis)connect).
type ReadyToSendChangedCallback func(ready bool)

// Config configures a Connection.
type Config struct {
	BrokerURL  string
	ClientID   string
	Gbid       string
	QoS        byte
	KeepAlive  time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	ExponentialBackoff   bool

	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

// UnicastTopic returns the unicast publish/subscribe topic for a channel
// within a broker group, per spec §6: "{gbid}/{channelId}/low".
func UnicastTopic(gbid, channelID string) string {
	return gbid + "/" + channelID + "/low"
}

// MulticastTopic returns the multicast topic for a multicast pattern
// within a broker group: "{gbid}/mcast/{topic}".
func MulticastTopic(gbid, topic string) string {
	return gbid + "/mcast/" + topic
}

// Connection wraps a paho.mqtt.golang client with joynr's channel/gbid
// topic layout and the ready/receive callback abstraction.
type Connection struct {
	cfg        Config
	client     paho.Client
	serializer wireformat.Serializer
	logger     zerolog.Logger

	ready    atomic.Bool
	receiveCb atomic.Value // ReceiveCallback
	readyCb   atomic.Value // ReadyToSendChangedCallback
}

// New constructs a Connection. Call Start to actually dial the broker.
func New(cfg Config, serializer wireformat.Serializer) *Connection {
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	c := &Connection{
		cfg:        cfg,
		serializer: serializer,
		logger:     log.WithComponent("mqtt-connection"),
	}
	c.receiveCb.Store(ReceiveCallback(func(string, []byte) {}))
	c.readyCb.Store(ReadyToSendChangedCallback(func(bool) {}))
	return c
}

// RegisterReceiveCallback installs cb as the handler for every message
// arriving on any topic this Connection has subscribed to.
func (c *Connection) RegisterReceiveCallback(cb ReceiveCallback) {
	c.receiveCb.Store(cb)
}

// RegisterReadyToSendChangedCallback installs cb, invoked with the new
// readiness state on every broker connect/disconnect transition.
func (c *Connection) RegisterReadyToSendChangedCallback(cb ReadyToSendChangedCallback) {
	c.readyCb.Store(cb)
}

// Start configures the paho client and connects. Reconnection, keepalive
// and (optional) exponential backoff are delegated to paho's own
// AutoReconnect machinery, configured from cfg.
func (c *Connection) Start() error {
	maxReconnect := c.cfg.ReconnectMaxDelay
	if !c.cfg.ExponentialBackoff {
		// paho backs off exponentially between ReconnectDelay and
		// MaxReconnectInterval whenever they differ; pinning the max to
		// the base delay gives a fixed reconnect interval instead.
		maxReconnect = c.cfg.ReconnectDelay
	}

	opts := paho.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetKeepAlive(c.cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.cfg.ReconnectDelay).
		SetMaxReconnectInterval(maxReconnect).
		SetOnConnectHandler(func(paho.Client) {
			c.setReady(true)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn().Err(err).Msg("mqtt connection lost, paho will auto-reconnect")
			c.setReady(false)
		})

	if c.cfg.TLSCAFile != "" || c.cfg.TLSCertFile != "" {
		tlsConfig, err := loadTLSConfig(c.cfg.TLSCAFile, c.cfg.TLSCertFile, c.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("mqtt: failed to load tls config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	return token.Error()
}

// Stop disconnects, waiting up to quiesceMs for in-flight work to drain.
func (c *Connection) Stop(quiesceMs uint) {
	if c.client != nil {
		c.client.Disconnect(quiesceMs)
	}
}

func (c *Connection) setReady(ready bool) {
	c.ready.Store(ready)
	if cb, ok := c.readyCb.Load().(ReadyToSendChangedCallback); ok {
		cb(ready)
	}
}

// IsReady reports whether the connection currently believes it can
// publish without blocking.
func (c *Connection) IsReady() bool {
	return c.ready.Load()
}

// Publish sends payload to topic at the configured QoS, waiting for the
// publish token to resolve.
func (c *Connection) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	token.Wait()
	return token.Error()
}

// Subscribe subscribes to topic, routing every received message through
// the registered ReceiveCallback.
func (c *Connection) Subscribe(topic string) error {
	token := c.client.Subscribe(topic, c.cfg.QoS, func(_ paho.Client, m paho.Message) {
		if cb, ok := c.receiveCb.Load().(ReceiveCallback); ok {
			cb(m.Topic(), m.Payload())
		}
	})
	token.Wait()
	return token.Error()
}

// Unsubscribe ends the subscription to topic.
func (c *Connection) Unsubscribe(topic string) error {
	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Send implements router.Transport: it serialises msg and publishes it to
// the unicast or multicast topic addr resolves to.
func (c *Connection) Send(addr model.Address, msg *model.Message) router.SendResult {
	var topic string
	switch addr.Kind {
	case model.AddressMqtt:
		topic = UnicastTopic(addr.MqttGbid, addr.MqttChannelID)
	case model.AddressMulticast:
		topic = MulticastTopic(c.cfg.Gbid, addr.MulticastTopic)
	default:
		return router.SendResult{Err: fmt.Errorf("mqtt: unsupported address kind %v", addr.Kind)}
	}

	if !c.IsReady() {
		return router.SendResult{Retry: true}
	}

	body, err := c.serializer.Serialize(msg)
	if err != nil {
		return router.SendResult{Err: fmt.Errorf("mqtt: failed to serialise message: %w", err)}
	}
	if err := c.Publish(topic, body); err != nil {
		return router.SendResult{Retry: true}
	}
	return router.SendResult{Delivered: true}
}
