package validator

import "errors"

var (
	ErrRoundStale = errors.New("chain tip moved during round") // another leader was accepted first
	ErrNoSigner   = errors.New("elector requires a signer")
	ErrNoBlocks   = errors.New("elector requires a block source")
)
