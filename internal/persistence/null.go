package persistence

// NullStore is a Store that persists nothing. Spec §4.9 requires that
// running with no persistence backend configured be a legal runtime
// configuration; this is that configuration.
type NullStore struct{}

func (NullStore) Save(string, []byte) error          { return nil }
func (NullStore) Load() (map[string][]byte, error)    { return map[string][]byte{}, nil }
func (NullStore) Remove(string) error                 { return nil }
func (NullStore) Close() error                        { return nil }
