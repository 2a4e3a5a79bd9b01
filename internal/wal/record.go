package wal

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"walcore/internal/common"
)

// On-disk record layout. Every record's tag byte occupies the first byte of
// the record's byte range, but per §4.1's tag-last write order the bytes at
// [offset+1, offset+size) are written before the tag byte at [offset] is
// written. Resize zero-fills new file bytes, so a torn write leaves the tag
// byte at 0 ("no record here") until the write completes.
//
//	ABORT / COMMIT / BEGIN:   tag(1) txn_id(8)
//	CHECKPOINT:               tag(1)
//	BEGIN_FUZZY / END_FUZZY:  tag(1)
//	UPDATE:                   tag(1) txn_id(8) page_id(8) length(8) offset(8) before(length) after(length)
const (
	txnRecordSize    = 1 + 8
	markerRecordSize = 1
	updateHeaderSize = 1 + 8 + 8 + 8 + 8
)

type updateRecord struct {
	txnID  common.TxnID
	pageID common.PageID
	length uint64
	offset uint64
	before []byte
	after  []byte
}

func encodeTxnPayload(id common.TxnID) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeTxnPayload(buf []byte) common.TxnID {
	return common.TxnID(binary.LittleEndian.Uint64(buf))
}

func encodeUpdatePayload(u updateRecord) []byte {
	buf := make([]byte, 8*4+len(u.before)+len(u.after))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(u.txnID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(u.pageID))
	binary.LittleEndian.PutUint64(buf[16:24], u.length)
	binary.LittleEndian.PutUint64(buf[24:32], u.offset)
	copy(buf[32:32+len(u.before)], u.before)
	copy(buf[32+len(u.before):], u.after)
	return buf
}

// recordSize returns the total on-disk size (tag byte included) of the
// record whose tag is kind, given that for UPDATE the length field must
// already be known (read separately, since it is itself part of the
// payload).
func recordSize(kind common.RecordKind, length uint64) (int64, error) {
	switch kind {
	case common.KindAbort, common.KindCommit, common.KindBegin:
		return txnRecordSize, nil
	case common.KindCheckpoint, common.KindBeginFuzzyCheckpoint, common.KindEndFuzzyCheckpoint:
		return markerRecordSize, nil
	case common.KindUpdate:
		return int64(updateHeaderSize) + 2*int64(length), nil
	default:
		return 0, errors.Errorf("wal: unknown record kind %d", kind)
	}
}
