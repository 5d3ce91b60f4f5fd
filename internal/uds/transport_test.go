package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/wireformat"
)

type recordingSender struct {
	sent [][]byte
}

func (s *recordingSender) Send(body []byte, onFail func(error)) {
	s.sent = append(s.sent, body)
}

func (s *recordingSender) Close() {}

func TestParticipantTransportSendRequiresRegisteredClient(t *testing.T) {
	tr := NewParticipantTransport(wireformat.JSONSerializer{})
	result := tr.Send(model.NewUdsAddress("client-a"), &model.Message{ID: "m1"})
	assert.True(t, result.Retry, "unregistered client must be reported as retryable, not permanently failed")
}

func TestParticipantTransportSendDeliversToRegisteredSender(t *testing.T) {
	tr := NewParticipantTransport(wireformat.JSONSerializer{})
	sender := &recordingSender{}
	tr.Register("client-a", sender)

	result := tr.Send(model.NewUdsAddress("client-a"), &model.Message{ID: "m1", Recipient: "client-a"})
	require.True(t, result.Delivered)
	require.Len(t, sender.sent, 1)
}

func TestParticipantTransportUnregisterStopsFurtherDelivery(t *testing.T) {
	tr := NewParticipantTransport(wireformat.JSONSerializer{})
	tr.Register("client-a", &recordingSender{})
	tr.Unregister("client-a")

	result := tr.Send(model.NewUdsAddress("client-a"), &model.Message{ID: "m1"})
	assert.True(t, result.Retry)
}

func TestParticipantTransportRejectsNonUdsAddress(t *testing.T) {
	tr := NewParticipantTransport(wireformat.JSONSerializer{})
	result := tr.Send(model.NewLocalAddress(), &model.Message{ID: "m1"})
	assert.Error(t, result.Err)
}
