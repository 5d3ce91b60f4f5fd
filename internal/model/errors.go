package model

import "errors"

var errInvalidExpiry = errors.New("model: message expiry precedes creation")

// ErrUnknownAddressKind names an Address constructed with a Kind this
// package does not know. No helper returns it; Address.Equal reports
// false for such an Address.
var ErrUnknownAddressKind = errors.New("model: unknown address kind")
