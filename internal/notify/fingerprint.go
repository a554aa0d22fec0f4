package notify

import (
	"hash/fnv"
	"strconv"
)

// fingerprint derives the duplicate-suppression key for a payload. Two
// payloads with equal kind and normalized form collide on purpose: within the
// duplicate window they are the same notification.
func fingerprint(p Payload) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.Kind()))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(p.normalized()))
	return strconv.FormatUint(h.Sum64(), 16)
}

// dedupStoreKey namespaces a fingerprint per user for the persistent dedup
// mirror.
func dedupStoreKey(userID int64, fp string) string {
	return strconv.FormatInt(userID, 10) + ":" + fp
}
