package model

// AddressKind discriminates the sum type described in spec §3: a
// participant address is one of four mutually exclusive shapes.
type AddressKind int

const (
	AddressLocal AddressKind = iota
	AddressUds
	AddressMqtt
	AddressMulticast
)

// Address is a value-typed sum over the four participant address shapes.
// Equality is by discriminant + fields, so two Addresses built with the
// same Kind and fields compare equal even if constructed separately.
type Address struct {
	Kind AddressKind

	// AddressLocal: no further fields required, participant lives in this process.

	// AddressUds
	UdsClientID string

	// AddressMqtt
	MqttChannelID string
	MqttGbid      string

	// AddressMulticast
	MulticastTopic string
}

// NewLocalAddress builds an in-process participant address.
func NewLocalAddress() Address { return Address{Kind: AddressLocal} }

// NewUdsAddress builds an address identifying a UDS-connected client.
func NewUdsAddress(clientID string) Address {
	return Address{Kind: AddressUds, UdsClientID: clientID}
}

// NewMqttAddress builds an address identifying an MQTT channel within a
// broker group.
func NewMqttAddress(channelID, gbid string) Address {
	return Address{Kind: AddressMqtt, MqttChannelID: channelID, MqttGbid: gbid}
}

// NewMulticastAddress builds an address for a multicast topic pattern.
func NewMulticastAddress(topic string) Address {
	return Address{Kind: AddressMulticast, MulticastTopic: topic}
}

// Equal reports value equality over the discriminant and the fields that
// apply to that discriminant.
func (a Address) Equal(b Address) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AddressLocal:
		return true
	case AddressUds:
		return a.UdsClientID == b.UdsClientID
	case AddressMqtt:
		return a.MqttChannelID == b.MqttChannelID && a.MqttGbid == b.MqttGbid
	case AddressMulticast:
		return a.MulticastTopic == b.MulticastTopic
	default:
		return false
	}
}

// RoutingEntry associates a participant id with its resolved address plus
// the bookkeeping the router needs to decide cleanup and multicast gbid
// selection (spec §3).
type RoutingEntry struct {
	ParticipantID     string
	Address           Address
	IsGloballyVisible bool
	IsSticky          bool // survives routing-table cleanup sweeps
	RefCount          int  // shared address referenced by multiple multicast subscribers
	ValidGbids        []string
}
