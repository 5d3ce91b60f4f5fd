// Package wireformat provides the Message <-> byte-array boundary the
// core needs but does not own: spec §1 treats SMRF (the real joynr wire
// serialization) as an external, opaque byte-array view producer. This
// package's JSON codec is a drop-in stand-in satisfying the same
// Serializer contract, swappable for a real SMRF binding without
// touching router, transport, or publication-manager code.
package wireformat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bmwcarit/joynr-cc/internal/model"
)

func msUnix(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Serializer turns a Message into the opaque byte array a frame carries,
// and back. Implementations must be safe for concurrent use.
type Serializer interface {
	Serialize(msg *model.Message) ([]byte, error)
	Deserialize(data []byte) (*model.Message, error)
}

// JSONSerializer is the default Serializer. It is not wire-compatible
// with a real SMRF-speaking joynr peer; it exists so the core is
// runnable and testable end-to-end without the external SMRF library.
type JSONSerializer struct{}

type wireMessage struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	Kind          string `json:"kind"`
	CreatedMs     int64  `json:"createdMs"`
	ExpiryMs      int64  `json:"expiryMs"` // 0 means NO_EXPIRY
	Effort        uint8  `json:"effort"`
	Payload       []byte `json:"payload"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (JSONSerializer) Serialize(msg *model.Message) ([]byte, error) {
	w := wireMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Kind:      string(msg.Kind),
		CreatedMs:     msg.Created.UnixMilli(),
		Effort:        uint8(msg.Effort),
		Payload:       msg.Payload,
		CorrelationID: msg.CorrelationID,
	}
	if msg.HasExpiry() {
		w.ExpiryMs = msg.Expiry.UnixMilli()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("wireformat: failed to serialize message %s: %w", msg.ID, err)
	}
	return data, nil
}

func (JSONSerializer) Deserialize(data []byte) (*model.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("wireformat: failed to deserialize message: %w", err)
	}
	msg := &model.Message{
		ID:        w.ID,
		Sender:    w.Sender,
		Recipient: w.Recipient,
		Kind:      model.Type(w.Kind),
		Created:       msUnix(w.CreatedMs),
		Effort:        model.Effort(w.Effort),
		Payload:       w.Payload,
		CorrelationID: w.CorrelationID,
	}
	if w.ExpiryMs != 0 {
		msg.Expiry = msUnix(w.ExpiryMs)
	}
	return msg, nil
}
