package receipt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Record framing, per segment:
//
//	length (u32, big-endian): covers the type byte and the payload
//	crc32c (u32, big-endian): Castagnoli, over the type byte and the payload
//	type   (u8): 1=CreateReceipt 2=TransitionReceipt 3=Checkpoint
//	payload (JSON)
const (
	recCreateReceipt     byte = 1
	recTransitionReceipt byte = 2
	recCheckpoint        byte = 3

	recHeaderSize = 9

	// maxRecordLen bounds a single record. Checkpoints are the largest record
	// type and stay far below this; a length beyond it can only come from a
	// corrupted header, so it is rejected before any allocation.
	maxRecordLen = 64 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeRecord frames a record for appending.
func encodeRecord(typ byte, payload []byte) []byte {
	buf := make([]byte, recHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(payload)))
	buf[8] = typ
	copy(buf[recHeaderSize:], payload)
	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(buf[8:], castagnoli))
	return buf
}

// readRecord reads one record from r. It returns io.EOF at a clean boundary
// and io.ErrUnexpectedEOF when the segment ends mid-record (a torn write).
// A complete record whose checksum does not match returns ErrCorrupted.
func readRecord(r io.Reader) (typ byte, payload []byte, err error) {
	var header [recHeaderSize]byte
	if _, err := io.ReadFull(r, header[:4]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, io.ErrUnexpectedEOF
	}
	if _, err := io.ReadFull(r, header[4:]); err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length == 0 {
		return 0, nil, fmt.Errorf("%w: zero-length record", ErrCorrupted)
	}
	if length > maxRecordLen {
		return 0, nil, fmt.Errorf("%w: record length %d exceeds %d", ErrCorrupted, length, maxRecordLen)
	}

	body := make([]byte, length)
	body[0] = header[8]
	if _, err := io.ReadFull(r, body[1:]); err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}

	if crc := crc32.Checksum(body, castagnoli); crc != binary.BigEndian.Uint32(header[4:8]) {
		return 0, nil, fmt.Errorf("%w: crc mismatch", ErrCorrupted)
	}
	return body[0], body[1:], nil
}

// segmentName returns the file name for segment n.
func segmentName(n uint64) string {
	return fmt.Sprintf("log.seg.%d", n)
}

// syncDir fsyncs a directory so renames and creates survive a crash.
func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
