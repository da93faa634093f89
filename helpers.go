package deckwire

import (
	"encoding/hex"
	stdjson "encoding/json"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/ImVexed/fasturl"
	"golang.org/x/exp/constraints"
)

const maxLocks = 50

var (
	namedMutexPool = make([]sync.Mutex, maxLocks)

	json = stdJsonWrapper{}
)

type stdJsonWrapper struct{}

func (stdJsonWrapper) Marshal(v any) ([]byte, error)      { return stdjson.Marshal(v) }
func (stdJsonWrapper) Unmarshal(data []byte, v any) error { return stdjson.Unmarshal(data, v) }

func namedLock(name string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(name))
	idx := h.Sum32() % maxLocks
	namedMutexPool[idx].Lock()
	return namedMutexPool[idx].Unlock
}

// IsValidRelayURL checks if a URL is a valid relay URL (ws:// or wss://).
func IsValidRelayURL(u string) bool {
	parsed, err := fasturl.ParseURL(u)
	if err != nil {
		return false
	}
	return parsed.Protocol == "wss" || parsed.Protocol == "ws"
}

// NormalizeURL normalizes a relay URL: lowercases it, upgrades the scheme
// to ws(s) and strips a trailing slash, so the same endpoint always maps
// to the same pool key.
func NormalizeURL(u string) string {
	if u == "" {
		return ""
	}

	u = strings.ToLower(strings.TrimSpace(u))

	if strings.HasPrefix(u, "http://") {
		u = "ws://" + u[7:]
	} else if strings.HasPrefix(u, "https://") {
		u = "wss://" + u[8:]
	} else if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		u = "wss://" + u
	}

	p, err := fasturl.ParseURL(u)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(p.Protocol)
	sb.WriteString("://")
	sb.WriteString(p.Host)
	if p.Port != "" {
		sb.WriteByte(':')
		sb.WriteString(p.Port)
	}
	if path := strings.TrimSuffix(p.Path, "/"); path != "" {
		sb.WriteString(path)
	}
	return sb.String()
}

func similar[E constraints.Ordered](as, bs []E) bool {
	if len(as) != len(bs) {
		return false
	}

	for _, a := range as {
		for _, b := range bs {
			if b == a {
				goto next
			}
		}
		// didn't find a B that corresponded to the current A
		return false

	next:
		continue
	}

	return true
}

func similarID(as, bs []ID) bool {
	if len(as) != len(bs) {
		return false
	}

	for _, a := range as {
		for _, b := range bs {
			if b == a {
				goto next
			}
		}
		return false

	next:
		continue
	}

	return true
}

func similarPublicKey(as, bs []PubKey) bool {
	if len(as) != len(bs) {
		return false
	}

	for _, a := range as {
		for _, b := range bs {
			if b == a {
				goto next
			}
		}
		return false

	next:
		continue
	}

	return true
}

// Escaping strings for JSON encoding according to RFC8259.
// Also encloses result in quotation marks "".
func escapeString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			// quotation mark
			dst = append(dst, []byte{'\\', '"'}...)
		case c == '\\':
			// reverse solidus
			dst = append(dst, []byte{'\\', '\\'}...)
		case c >= 0x20:
			// default, rest below are control chars
			dst = append(dst, c)
		case c == 0x08:
			dst = append(dst, []byte{'\\', 'b'}...)
		case c < 0x09:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '0', '0' + c}...)
		case c == 0x09:
			dst = append(dst, []byte{'\\', 't'}...)
		case c == 0x0a:
			dst = append(dst, []byte{'\\', 'n'}...)
		case c == 0x0c:
			dst = append(dst, []byte{'\\', 'f'}...)
		case c == 0x0d:
			dst = append(dst, []byte{'\\', 'r'}...)
		case c < 0x10:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '0', 0x57 + c}...)
		case c < 0x1a:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '1', 0x20 + c}...)
		case c < 0x20:
			dst = append(dst, []byte{'\\', 'u', '0', '0', '1', 0x47 + c}...)
		}
	}
	dst = append(dst, '"')
	return dst
}

func subIdToSerial(subId string) int64 {
	n := strings.IndexByte(subId, ':')
	if n < 0 {
		return -1
	}
	serialId, err := strconv.ParseInt(subId[0:n], 10, 64)
	if err != nil {
		return -1
	}
	return serialId
}

// extractSubID pulls the subscription id out of a raw "EVENT" frame without
// parsing the whole thing.
func extractSubID(jsonStr string) string {
	// look for "EVENT" pattern
	start := strings.Index(jsonStr, `"EVENT"`)
	if start == -1 {
		return ""
	}

	// move to the next quote
	offset := strings.Index(jsonStr[start+7:], `"`)
	if offset == -1 {
		return ""
	}

	start += 7 + offset + 1

	// find the ending quote
	end := strings.Index(jsonStr[start:], `"`)
	if end == -1 {
		return ""
	}

	return jsonStr[start : start+end]
}

// extractEventID pulls the event id out of a raw "EVENT" frame without
// parsing the whole thing. Returns the zero ID when it can't.
func extractEventID(jsonStr string) ID {
	// look for "id" pattern
	start := strings.Index(jsonStr, `"id"`)
	if start == -1 {
		return ZeroID
	}

	// move to the next quote
	offset := strings.IndexByte(jsonStr[start+4:], '"')
	if offset == -1 {
		return ZeroID
	}
	start += 4 + offset + 1

	if start+64 > len(jsonStr) {
		return ZeroID
	}

	var id ID
	if _, err := hex.Decode(id[:], []byte(jsonStr[start:start+64])); err != nil {
		return ZeroID
	}
	return id
}
