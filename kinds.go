package deckwire

import "strconv"

type Kind uint16

func (kind Kind) Num() uint16    { return uint16(kind) }
func (kind Kind) String() string { return "kind:" + strconv.Itoa(int(kind)) }

const (
	KindProfileMetadata        Kind = 0
	KindTextNote               Kind = 1
	KindRecommendServer        Kind = 2
	KindFollowList             Kind = 3
	KindEncryptedDirectMessage Kind = 4
	KindDeletion               Kind = 5
	KindRepost                 Kind = 6
	KindReaction               Kind = 7
	KindZap                    Kind = 9735
	KindMuteList               Kind = 10000
	KindPinList                Kind = 10001
	KindRelayListMetadata      Kind = 10002
	KindClientAuthentication   Kind = 22242
	KindCategorizedPeopleList  Kind = 30000
	KindArticle                Kind = 30023
)

// IsRegularKind checks if the given kind is a regular event kind: to be
// stored as-is, kept forever and possibly deleted with a deletion request.
func IsRegularKind(kind Kind) bool {
	return kind < 10000 && kind != 0 && kind != 3
}

// IsReplaceableKind checks if the event kind is meant to be replaced by a
// newer version from the same author.
func IsReplaceableKind(kind Kind) bool {
	return kind == 0 || kind == 3 || (10000 <= kind && kind < 20000)
}

// IsEphemeralKind checks if the event kind is not meant to be stored at all.
func IsEphemeralKind(kind Kind) bool {
	return 20000 <= kind && kind < 30000
}

// IsAddressableKind checks if the event kind is replaceable per (author, kind, "d" tag).
func IsAddressableKind(kind Kind) bool {
	return 30000 <= kind && kind < 40000
}
