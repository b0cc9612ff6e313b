package mux

import (
	"encoding/binary"

	"github.com/nareix/joy4/codec/h264parser"
)

const (
	naluTypeSPS = 7
	naluTypePPS = 8
)

// toAVCC converts one H.264 access unit to length-prefixed (AVCC) form,
// accepting either Annex-B or already length-prefixed input. In-band SPS and
// PPS are dropped; the parameter sets travel in the track format.
func toAVCC(au []byte) []byte {
	nalus, _ := h264parser.SplitNALUs(au)

	var n int
	for _, nalu := range nalus {
		if len(nalu) == 0 || skipNALU(nalu[0]) {
			continue
		}
		n += 4 + len(nalu)
	}
	if n == 0 {
		return nil
	}

	out := make([]byte, 0, n)
	var length [4]byte
	for _, nalu := range nalus {
		if len(nalu) == 0 || skipNALU(nalu[0]) {
			continue
		}
		binary.BigEndian.PutUint32(length[:], uint32(len(nalu)))
		out = append(out, length[:]...)
		out = append(out, nalu...)
	}
	return out
}

func skipNALU(header byte) bool {
	switch header & 0x1f {
	case naluTypeSPS, naluTypePPS:
		return true
	}
	return false
}
