package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/wireformat"
)

func TestUnicastTopicLayout(t *testing.T) {
	assert.Equal(t, "gbid-1/channel-1/low", UnicastTopic("gbid-1", "channel-1"))
}

func TestMulticastTopicLayout(t *testing.T) {
	assert.Equal(t, "gbid-1/mcast/alarmTriggered", MulticastTopic("gbid-1", "alarmTriggered"))
}

func TestSendReturnsRetryWhenNotYetConnected(t *testing.T) {
	c := New(Config{BrokerURL: "tcp://localhost:1", ClientID: "cc", Gbid: "gbid-1"}, &wireformat.JSONSerializer{})

	result := c.Send(model.NewMqttAddress("channel-1", "gbid-1"), &model.Message{ID: "m1", Recipient: "participant-1"})
	assert.True(t, result.Retry)
	assert.False(t, result.Delivered)
}

func TestSendRejectsUnsupportedAddressKind(t *testing.T) {
	c := New(Config{BrokerURL: "tcp://localhost:1", ClientID: "cc", Gbid: "gbid-1"}, &wireformat.JSONSerializer{})

	result := c.Send(model.NewLocalAddress(), &model.Message{ID: "m1"})
	assert.Error(t, result.Err)
}

func TestLoadTLSConfigRejectsMissingCAFile(t *testing.T) {
	_, err := loadTLSConfig("/nonexistent/ca.pem", "", "")
	assert.Error(t, err)
}
