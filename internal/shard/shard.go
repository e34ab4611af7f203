// Package shard provides partition key generation for the DynamoDB
// backend's constraint and edge tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// UniquePK computes a hash-distributed partition key for a unique value
// reservation. Hashing spreads constraints across partitions,
// eliminating hot partition risk on popular types.
func UniquePK(objectType, field, value string) string {
	data := fmt.Sprintf("%s#%s#%s", objectType, field, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}

// EdgePK computes the forward partition key for an edge list.
func EdgePK(src, edge string) string {
	return src + "#" + edge
}

// ReverseEdgePK computes the reverse-index partition key.
func ReverseEdgePK(dst, edge string) string {
	return dst + "#" + edge
}
