package deckwire

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is the common ancestor of all validation failures, so
// callers can errors.Is against a single sentinel.
var ErrInvalidEvent = errors.New("invalid event")

var (
	// ErrIDMismatch means the claimed id is not the hash of the event body.
	ErrIDMismatch = fmt.Errorf("%w: id does not match serialized body", ErrInvalidEvent)

	// ErrBadSignature means the signature does not verify against the id and pubkey.
	ErrBadSignature = fmt.Errorf("%w: bad signature", ErrInvalidEvent)

	// ErrFromFuture means created_at is further in the future than the
	// configured clock-skew tolerance.
	ErrFromFuture = fmt.Errorf("%w: created_at too far in the future", ErrInvalidEvent)
)

// Validate is the trust boundary for incoming events. It recomputes the
// content hash, verifies the signature and applies the clock-skew check, in
// that order, short-circuiting on the first failure. maxClockSkew <= 0
// disables the timestamp check.
//
// Nothing past a successful Validate may assume anything else about the
// event except what these checks established.
func (evt Event) Validate(maxClockSkew time.Duration) error {
	if !evt.CheckID() {
		return ErrIDMismatch
	}

	if !evt.VerifySignature() {
		return ErrBadSignature
	}

	if maxClockSkew > 0 {
		if evt.CreatedAt > Timestamp(time.Now().Add(maxClockSkew).Unix()) {
			return ErrFromFuture
		}
	}

	return nil
}
