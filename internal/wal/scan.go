package wal

import (
	"encoding/binary"

	"walcore/internal/common"
)

// decoded is one record as read back off the log during a scan.
type decoded struct {
	kind   common.RecordKind
	size   int64
	txnID  common.TxnID
	update updateRecord
}

// decodeAt reads and decodes the record starting at offset, returning its
// total on-disk size. It returns errEndOfLog if the tag byte is 0 (no record
// written here yet) or unrecognized (treated as log corruption per §7: the
// scan stops and whatever has been reconstructed so far is used).
func (w *WAL) decodeAt(offset int64) (decoded, error) {
	var tagBuf [1]byte
	if err := w.file.ReadBlock(offset, tagBuf[:]); err != nil {
		return decoded{}, errEndOfLog
	}
	kind := common.RecordKind(tagBuf[0])

	switch kind {
	case common.KindNone:
		return decoded{}, errEndOfLog

	case common.KindAbort, common.KindCommit, common.KindBegin:
		payload := make([]byte, 8)
		if err := w.file.ReadBlock(offset+1, payload); err != nil {
			return decoded{}, errEndOfLog
		}
		return decoded{kind: kind, size: txnRecordSize, txnID: decodeTxnPayload(payload)}, nil

	case common.KindCheckpoint, common.KindBeginFuzzyCheckpoint, common.KindEndFuzzyCheckpoint:
		return decoded{kind: kind, size: markerRecordSize}, nil

	case common.KindUpdate:
		hdr := make([]byte, 32)
		if err := w.file.ReadBlock(offset+1, hdr); err != nil {
			return decoded{}, errEndOfLog
		}
		u := updateRecord{
			txnID:  common.TxnID(binary.LittleEndian.Uint64(hdr[0:8])),
			pageID: common.PageID(binary.LittleEndian.Uint64(hdr[8:16])),
			length: binary.LittleEndian.Uint64(hdr[16:24]),
			offset: binary.LittleEndian.Uint64(hdr[24:32]),
		}
		images := make([]byte, 2*u.length)
		if u.length > 0 {
			if err := w.file.ReadBlock(offset+1+32, images); err != nil {
				return decoded{}, errEndOfLog
			}
		}
		u.before = images[:u.length]
		u.after = images[u.length:]
		return decoded{kind: kind, size: updateHeaderSize + 2*int64(u.length), txnID: u.txnID, update: u}, nil

	default:
		return decoded{}, errEndOfLog
	}
}
