package chain

import "errors"

// Sentinel errors for certificate acceptance. All of them are routine
// rejections of peer data and never fatal to the node.
var (
	ErrUnknownProposer      = errors.New("unknown proposer")          // public key not in the key ring
	ErrDuplicateCertificate = errors.New("certificate already known") // id already stored
	ErrStaleChain           = errors.New("stale chain tip")           // previous certificate id is not the local tip
	ErrDigestMismatch       = errors.New("block digest mismatch")     // certificate backs a different block
	ErrLocalMeanMismatch    = errors.New("local mean mismatch")       // timer sampled with another network's mean
	ErrPrematureCertificate = errors.New("wait has not elapsed")      // request_time + duration is in the future
	ErrInvalidSignature     = errors.New("invalid signature")         // signature does not verify
)
