package substore

import (
	"encoding/json"
	"fmt"

	"github.com/bmwcarit/joynr-cc/internal/model"
)

// EncodeJSON and DecodeJSON are the default (encode, decode) pair Put and
// Load expect. Persisted subscription records are this process's own
// concern (spec §1 leaves the on-disk format to the persistence
// collaborator), so a plain JSON rendering of model.Subscription is
// sufficient; there is no cross-process wire-compatibility requirement
// the way there is for wireformat.Serializer.
func EncodeJSON(sub *model.Subscription) ([]byte, error) {
	data, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("substore: failed to encode subscription %s: %w", sub.ID, err)
	}
	return data, nil
}

func DecodeJSON(data []byte) (*model.Subscription, error) {
	var sub model.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("substore: failed to decode subscription: %w", err)
	}
	return &sub, nil
}
