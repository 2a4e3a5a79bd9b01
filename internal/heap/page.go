package heap

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// Slotted page layout:
//
//	[0:2)   slot count (uint16)
//	[2:4)   free space pointer: byte offset where tuple bytes begin, counting
//	        down from the end of the page (uint16)
//	[4:8)   CRC32 (Castagnoli) of everything in the page except this field
//	[8:...) slot directory, 4 bytes per slot (tuple offset uint16, length uint16),
//	        growing forward from byte 8
//	...     tuple bytes, growing backward from the end of the page
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

const (
	headerLen    = 8
	slotEntryLen = 4
)

var (
	errPageFull     = errors.New("heap: page has no room for tuple")
	errSlotOutRange = errors.New("heap: slot index out of range")
)

type pageHeader struct {
	slotCount int
	freeSpace int // offset from page start where tuple bytes begin
	crc       uint32
}

func readHeader(buf []byte) pageHeader {
	return pageHeader{
		slotCount: int(binary.LittleEndian.Uint16(buf[0:2])),
		freeSpace: int(binary.LittleEndian.Uint16(buf[2:4])),
		crc:       binary.LittleEndian.Uint32(buf[4:8]),
	}
}

func writeHeader(buf []byte, h pageHeader) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.slotCount))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.freeSpace))
	binary.LittleEndian.PutUint32(buf[4:8], checksum(buf))
}

// checksum computes the CRC32 of the page excluding the checksum field
// itself, with that field's 4 bytes treated as zero.
func checksum(buf []byte) uint32 {
	crc := crc32.New(castagnoliTable)
	crc.Write(buf[0:4])
	var zero [4]byte
	crc.Write(zero[:])
	crc.Write(buf[8:])
	return crc.Sum32()
}

func verifyChecksum(buf []byte) bool {
	h := readHeader(buf)
	return h.crc == checksum(buf)
}

func initPage(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	writeHeader(buf, pageHeader{slotCount: 0, freeSpace: len(buf)})
}

func slotOffset(slot int) int {
	return headerLen + slot*slotEntryLen
}

func readSlot(buf []byte, slot int) (tupleOffset, length int) {
	o := slotOffset(slot)
	return int(binary.LittleEndian.Uint16(buf[o : o+2])), int(binary.LittleEndian.Uint16(buf[o+2 : o+4]))
}

func writeSlot(buf []byte, slot, tupleOffset, length int) {
	o := slotOffset(slot)
	binary.LittleEndian.PutUint16(buf[o:o+2], uint16(tupleOffset))
	binary.LittleEndian.PutUint16(buf[o+2:o+4], uint16(length))
}

// insertIntoPage places tuple in buf, returning its slot index and the
// absolute byte offset the tuple bytes were written at. It rewrites the
// header itself through writeHeader, checksum included.
func insertIntoPage(buf []byte, tuple []byte) (slot, offset int, err error) {
	h := readHeader(buf)
	needed := len(tuple)
	newFreeSpace := h.freeSpace - needed
	slotsEnd := slotOffset(h.slotCount + 1)
	if newFreeSpace < slotsEnd {
		return 0, 0, errPageFull
	}
	copy(buf[newFreeSpace:newFreeSpace+needed], tuple)
	writeSlot(buf, h.slotCount, newFreeSpace, needed)
	h.slotCount++
	h.freeSpace = newFreeSpace
	writeHeader(buf, h)
	return h.slotCount - 1, newFreeSpace, nil
}

func readFromPage(buf []byte, slot int) ([]byte, int, error) {
	h := readHeader(buf)
	if slot < 0 || slot >= h.slotCount {
		return nil, 0, errSlotOutRange
	}
	offset, length := readSlot(buf, slot)
	out := make([]byte, length)
	copy(out, buf[offset:offset+length])
	return out, offset, nil
}
