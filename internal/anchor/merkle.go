package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const stateRootPrefix = "sha256:"

// MerkleRoot reduces leaves pairwise with SHA-256 until one digest remains. The
// last node of an odd level is paired with itself. An empty set yields the zero digest.
func MerkleRoot(leaves [][sha256.Size]byte) [sha256.Size]byte {
	if len(leaves) == 0 {
		return [sha256.Size]byte{}
	}

	level := make([][sha256.Size]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([][sha256.Size]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			j := i + 1
			if j == len(level) {
				j = i
			}
			pair := make([]byte, 0, 2*sha256.Size)
			pair = append(pair, level[i][:]...)
			pair = append(pair, level[j][:]...)
			next = append(next, sha256.Sum256(pair))
		}
		level = next
	}
	return level[0]
}

// StateRoot commits to the ordered transaction digests of the block range
// [start, end]. The range is bound into the root so the same digests anchored
// under another range produce a different commitment.
func StateRoot(start, end uint64, txDigests []string) string {
	leaves := make([][sha256.Size]byte, len(txDigests))
	for i, d := range txDigests {
		leaves[i] = sha256.Sum256([]byte(d))
	}
	root := MerkleRoot(leaves)

	h := sha256.New()
	_, _ = fmt.Fprintf(h, "BLOCK_RANGE:%d:%d", start, end)
	h.Write(root[:])
	return stateRootPrefix + hex.EncodeToString(h.Sum(nil))
}
