package ledger

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Key namespaces. Every ledger key starts with a one-letter namespace and a
// slash so prefix scans never cross entity kinds.
//
//	e/<event_id>           -> event blob
//	p/<payment_id>/<seq>   -> event id (per-payment chain index)
//	b/<height>             -> block blob
//	c/<height>             -> checkpoint blob
//	m/<name>               -> meta values (tip height, app hash, ...)
var (
	prefixEvent      = []byte("e/")
	prefixPayment    = []byte("p/")
	prefixBlock      = []byte("b/")
	prefixCheckpoint = []byte("c/")
	prefixMeta       = []byte("m/")
)

// Meta keys.
var (
	metaTipHeight        = metaKey("tip")
	metaAppHash          = metaKey("apphash")
	metaLastCheckpointID = metaKey("lastckpt")
	metaEventCount       = metaKey("events")
)

func eventKey(id uuid.UUID) []byte {
	k := make([]byte, 0, len(prefixEvent)+16)
	k = append(k, prefixEvent...)
	return append(k, id[:]...)
}

func paymentSeqKey(paymentID uuid.UUID, seq uint64) []byte {
	k := make([]byte, 0, len(prefixPayment)+16+1+8)
	k = append(k, prefixPayment...)
	k = append(k, paymentID[:]...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint64(k, seq)
}

func paymentPrefix(paymentID uuid.UUID) []byte {
	k := make([]byte, 0, len(prefixPayment)+16+1)
	k = append(k, prefixPayment...)
	k = append(k, paymentID[:]...)
	return append(k, '/')
}

func blockKey(height uint64) []byte {
	k := make([]byte, 0, len(prefixBlock)+8)
	k = append(k, prefixBlock...)
	return binary.BigEndian.AppendUint64(k, height)
}

func checkpointKey(height uint64) []byte {
	k := make([]byte, 0, len(prefixCheckpoint)+8)
	k = append(k, prefixCheckpoint...)
	return binary.BigEndian.AppendUint64(k, height)
}

func metaKey(name string) []byte {
	k := make([]byte, 0, len(prefixMeta)+len(name))
	k = append(k, prefixMeta...)
	return append(k, name...)
}

func encodeU64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
