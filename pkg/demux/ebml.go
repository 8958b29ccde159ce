package demux

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Element IDs for the container subset the pipeline cares about. IDs keep
// their marker bits, matching how they appear on the wire.
const (
	idEBML             = 0x1A45DFA3
	idSegment          = 0x18538067
	idTracks           = 0x1654AE6B
	idTrackEntry       = 0xAE
	idTrackNumber      = 0xD7
	idTrackName        = 0x536E
	idCluster          = 0x1F43B675
	idClusterTimestamp = 0xE7
	idSimpleBlock      = 0xA3
	idTags             = 0x1254C367
	idTag              = 0x7373
	idSimpleTag        = 0x67C8
	idTagName          = 0x45A3
	idTagString        = 0x4487
)

// TagFragmentNumber is the tag name that carries the stream's fragment
// marker alongside the audio clusters.
const TagFragmentNumber = "FRAGMENT_NUMBER"

// sizeUnknown flags a master element whose extent is open-ended, which is
// the norm for live streams.
const sizeUnknown = int64(-1)

// maxElementSize bounds leaf payloads so a corrupted length cannot make the
// parser buffer unbounded input.
const maxElementSize = 16 << 20

var errElementTooLarge = fmt.Errorf("element payload exceeds %d bytes", maxElementSize)

// errBadVint marks a decode-class failure (garbage lead byte) as opposed to
// an I/O failure. The demuxer resyncs past these instead of aborting.
var errBadVint = errors.New("invalid varint lead byte")

// isMaster reports whether an element only contains child elements. Master
// elements are descended into rather than buffered.
func isMaster(id uint64) bool {
	switch id {
	case idEBML, idSegment, idTracks, idTrackEntry, idCluster, idTags, idTag, idSimpleTag:
		return true
	}
	return false
}

// readElementID reads a variable-width element ID, marker bits included.
func readElementID(r *bufio.Reader) (uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	width := vintWidth(b)
	if width == 0 {
		return 0, errBadVint
	}
	id := uint64(b)
	for i := 1; i < width; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		id = id<<8 | uint64(b)
	}
	return id, nil
}

// readElementSize reads a variable-width size with the marker bit stripped.
// An all-ones payload means "unknown extent".
func readElementSize(r *bufio.Reader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	width := vintWidth(b)
	if width == 0 {
		return 0, errBadVint
	}
	mask := byte(0xFF >> width)
	size := uint64(b & mask)
	allOnes := b&mask == mask
	for i := 1; i < width; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		size = size<<8 | uint64(b)
		if b != 0xFF {
			allOnes = false
		}
	}
	if allOnes {
		return sizeUnknown, nil
	}
	return int64(size), nil
}

// vintWidth returns the byte width encoded by a lead byte, or 0 if invalid.
func vintWidth(b byte) int {
	for i := 0; i < 8; i++ {
		if b&(0x80>>i) != 0 {
			return i + 1
		}
	}
	return 0
}

// readPayload buffers a leaf element's payload.
func readPayload(r *bufio.Reader, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("leaf element with unknown size")
	}
	if size > maxElementSize {
		return nil, errElementTooLarge
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// decodeUint interprets a payload as a big-endian unsigned integer.
func decodeUint(p []byte) (uint64, error) {
	if len(p) == 0 || len(p) > 8 {
		return 0, fmt.Errorf("uint payload of %d bytes", len(p))
	}
	var v uint64
	for _, b := range p {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// decodeVint reads an EBML varint from the front of a payload, returning the
// value and the number of bytes consumed. Used for the track number inside a
// block payload.
func decodeVint(p []byte) (uint64, int, error) {
	if len(p) == 0 {
		return 0, 0, fmt.Errorf("empty varint")
	}
	width := vintWidth(p[0])
	if width == 0 || width > len(p) {
		return 0, 0, fmt.Errorf("invalid varint in block payload")
	}
	mask := byte(0xFF >> width)
	v := uint64(p[0] & mask)
	for i := 1; i < width; i++ {
		v = v<<8 | uint64(p[i])
	}
	return v, width, nil
}
