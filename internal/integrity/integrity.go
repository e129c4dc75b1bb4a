// Package integrity produces deterministic digests over JSON-like payloads.
//
// Every component that speaks of an "integrity hash" — trial balance
// snapshots, compliance snapshots, release audit chain entries — hashes
// through this package, so identical logical content always yields an
// identical digest regardless of how the payload was constructed.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnhashablePayload is returned when a payload cannot be canonicalized,
// e.g. it contains a cycle, a channel, or a non-finite float. Callers pass
// plain data, so hitting this error indicates a programming fault.
var ErrUnhashablePayload = errors.New("unhashable payload")

// Canonicalize serializes v into a canonical JSON byte form: mapping keys
// sorted lexicographically at every nesting level, numbers rendered exactly
// as encoding/json renders them (locale-independent, shortest round-trip),
// and nothing added that is not part of the payload.
func Canonicalize(v any) ([]byte, error) {
	// One pass through encoding/json normalises struct tags, typed maps and
	// slices, and rejects cycles and unsupported kinds up front.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhashablePayload, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep numeric literals verbatim
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhashablePayload, err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the hex-encoded SHA-256 digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(x.String())
	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnhashablePayload, err)
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnhashablePayload, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Decoding with UseNumber only yields the cases above.
		return fmt.Errorf("%w: unexpected node type %T", ErrUnhashablePayload, v)
	}
	return nil
}
