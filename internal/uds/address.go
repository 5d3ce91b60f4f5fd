package uds

import "encoding/json"

// clientAddressTypeName is the literal joynr runtime type tag a client's
// init frame body must carry, per spec §4.3/§4.6.
const clientAddressTypeName = "joynr.system.RoutingTypes.UdsClientAddress"

// ClientAddress is the JSON envelope carried in a client's MJI1 init
// frame. Field declaration order matters: encoding/json marshals struct
// fields in that order, and the wire format requires _typeName first.
type ClientAddress struct {
	TypeName string `json:"_typeName"`
	ID       string `json:"id"`
}

// NewClientAddress builds the address descriptor a Client sends as its
// init frame body.
func NewClientAddress(id string) ClientAddress {
	return ClientAddress{TypeName: clientAddressTypeName, ID: id}
}

func (a ClientAddress) marshal() ([]byte, error) {
	return json.Marshal(a)
}

// parseClientAddress decodes and validates an init frame body. A body
// that does not parse, or whose _typeName does not match, is rejected -
// the server must never invoke onConnected for it.
func parseClientAddress(body []byte) (ClientAddress, error) {
	var a ClientAddress
	if err := json.Unmarshal(body, &a); err != nil {
		return ClientAddress{}, &DecodeError{Reason: "malformed init frame body", Err: err}
	}
	if a.TypeName != clientAddressTypeName {
		return ClientAddress{}, &DecodeError{Reason: "unexpected init frame _typeName: " + a.TypeName}
	}
	if a.ID == "" {
		return ClientAddress{}, &DecodeError{Reason: "init frame carries an empty client id"}
	}
	return a, nil
}
