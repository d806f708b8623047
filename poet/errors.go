package poet

import "errors"

// Sentinel errors for wait timer and certificate handling.
// Callers may use errors.Is to check for specific failure types.
var (
	ErrInvalidParameter = errors.New("invalid parameter")          // construction input outside its domain
	ErrDeserialization  = errors.New("malformed wait certificate") // serialized bytes could not be decoded
	ErrEmptySignature   = errors.New("empty signature")            // signer returned no bytes
)
