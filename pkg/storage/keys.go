package storage

import (
	"fmt"
)

// Key schema:
//
//	att:<tradeRef>:<attemptID> → settlement attempt
//	str:<attemptID>            → attempt with exactly one settled leg
//	rsv:<attemptID>            → operator resolution of a stranded attempt
const (
	prefixAttempt    = "att:"
	prefixStranded   = "str:"
	prefixResolution = "rsv:"
)

func attemptKey(ref, attemptID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixAttempt, ref, attemptID))
}

// attemptPrefix ends with ':' so "X-1" does not match "X-10".
func attemptPrefix(ref string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixAttempt, ref))
}

func strandedKey(attemptID string) []byte {
	return []byte(prefixStranded + attemptID)
}

func resolutionKey(attemptID string) []byte {
	return []byte(prefixResolution + attemptID)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
