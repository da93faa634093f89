package deckwire

import (
	"encoding/hex"
	"fmt"
	"time"
	"unsafe"
)

// Timestamp is a unix timestamp in seconds, as carried in event "created_at" fields.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().Unix()) }

func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0) }

// ID is an event id: the sha256 of the event's canonical serialization.
type ID [32]byte

var ZeroID = ID{}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

func IDFromHex(idh string) (ID, error) {
	id := ID{}
	if len(idh) != 64 {
		return id, fmt.Errorf("id should be 64-char hex, got '%s'", idh)
	}
	if _, err := hex.Decode(id[:], unsafe.Slice(unsafe.StringData(idh), 64)); err != nil {
		return id, fmt.Errorf("'%s' is not valid hex: %w", idh, err)
	}
	return id, nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 66)
	b = append(b, '"')
	b = hex.AppendEncode(b, id[:])
	b = append(b, '"')
	return b, nil
}

func (id *ID) UnmarshalJSON(buf []byte) error {
	if len(buf) != 66 || buf[0] != '"' || buf[65] != '"' {
		return fmt.Errorf("id must be a 64-char hex string")
	}
	if _, err := hex.Decode(id[:], buf[1:65]); err != nil {
		return fmt.Errorf("id is not valid hex: %w", err)
	}
	return nil
}

func MustIDFromHex(idh string) ID {
	id, err := IDFromHex(idh)
	if err != nil {
		panic(err)
	}
	return id
}

// PubKey is a 32-byte schnorr public key.
type PubKey [32]byte

var ZeroPK = PubKey{}

func (pk PubKey) String() string { return hex.EncodeToString(pk[:]) }

func PubKeyFromHex(pkh string) (PubKey, error) {
	pk := PubKey{}
	if len(pkh) != 64 {
		return pk, fmt.Errorf("pubkey should be 64-char hex, got '%s'", pkh)
	}
	if _, err := hex.Decode(pk[:], unsafe.Slice(unsafe.StringData(pkh), 64)); err != nil {
		return pk, fmt.Errorf("'%s' is not valid hex: %w", pkh, err)
	}
	if !IsValidPublicKey(pk) {
		return pk, fmt.Errorf("'%s' is not a valid pubkey", pkh)
	}
	return pk, nil
}

func (pk PubKey) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 66)
	b = append(b, '"')
	b = hex.AppendEncode(b, pk[:])
	b = append(b, '"')
	return b, nil
}

func (pk *PubKey) UnmarshalJSON(buf []byte) error {
	if len(buf) != 66 || buf[0] != '"' || buf[65] != '"' {
		return fmt.Errorf("pubkey must be a 64-char hex string")
	}
	if _, err := hex.Decode(pk[:], buf[1:65]); err != nil {
		return fmt.Errorf("pubkey is not valid hex: %w", err)
	}
	return nil
}

func MustPubKeyFromHex(pkh string) PubKey {
	pk := PubKey{}
	hex.Decode(pk[:], unsafe.Slice(unsafe.StringData(pkh), 64))
	return pk
}

// RelayEvent couples an accepted event with the relay it was first seen on.
type RelayEvent struct {
	Event
	Relay *Relay
}

func (ie RelayEvent) String() string { return fmt.Sprintf("[%s] >> %s", ie.Relay.URL, ie.Event) }
