// +build linux

package v4l2

// Kernel UAPI subset from videodev2.h and v4l2-controls.h: just the
// structures and controls the stateful H.264 encoder path touches.
// Structure layouts match 64-bit kernels.

import (
	"encoding/binary"
	"unsafe"
)

const (
	V4L2_BUF_TYPE_VIDEO_CAPTURE = 1

	V4L2_MEMORY_MMAP = 1

	V4L2_FIELD_ANY = 0

	// Fourcc 'H264'.
	V4L2_PIX_FMT_H264 = 0x34363248

	V4L2_CTRL_CLASS_MPEG = 0x00990000
	v4l2_cid_mpeg_base   = V4L2_CTRL_CLASS_MPEG | 0x900

	V4L2_CID_MPEG_VIDEO_BITRATE           = v4l2_cid_mpeg_base + 207
	V4L2_CID_MPEG_VIDEO_REPEAT_SEQ_HEADER = v4l2_cid_mpeg_base + 226
	V4L2_CID_MPEG_VIDEO_FORCE_KEY_FRAME   = v4l2_cid_mpeg_base + 229
	V4L2_CID_MPEG_VIDEO_H264_I_PERIOD     = v4l2_cid_mpeg_base + 358
)

type v4l2_buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         uint32 // timeval alignment
	timestamp [16]byte
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         [8]byte // union: offset / userptr / planes / fd
	length    uint32
	reserved2 uint32
	reserved  uint32
	_         uint32
}

type v4l2_requestbuffers struct {
	count    uint32
	typ      uint32
	memory   uint32
	reserved [2]uint32
}

type v4l2_pix_format struct {
	width       uint32
	height      uint32
	pixelformat uint32
	field       uint32
}

// marshal packs the pixel format into the v4l2_format union area.
func (p *v4l2_pix_format) marshal() (out [200]byte) {
	nativeEndian.PutUint32(out[0:], p.width)
	nativeEndian.PutUint32(out[4:], p.height)
	nativeEndian.PutUint32(out[8:], p.pixelformat)
	nativeEndian.PutUint32(out[12:], p.field)
	return
}

type v4l2_format struct {
	typ uint32
	_   uint32 // union alignment
	fmt [200]byte
}

// v4l2_ext_control is packed in the kernel header; the byte-array union
// keeps the Go layout identical.
type v4l2_ext_control struct {
	id       uint32
	size     uint32
	reserved [1]uint32
	value    [8]byte
}

type v4l2_ext_controls struct {
	ctrl_class uint32
	count      uint32
	error_idx  uint32
	reserved   [2]uint32
	_          uint32 // pointer alignment
	controls   unsafe.Pointer
}

// ioctl request codes, computed the way the _IOC macros do.
const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uint {
	return uint(dir<<30 | size<<16 | typ<<8 | nr)
}

var (
	VIDIOC_S_FMT       = ioc(iocRead|iocWrite, 'V', 5, unsafe.Sizeof(v4l2_format{}))
	VIDIOC_REQBUFS     = ioc(iocRead|iocWrite, 'V', 8, unsafe.Sizeof(v4l2_requestbuffers{}))
	VIDIOC_QUERYBUF    = ioc(iocRead|iocWrite, 'V', 9, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_QBUF        = ioc(iocRead|iocWrite, 'V', 15, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_DQBUF       = ioc(iocRead|iocWrite, 'V', 17, unsafe.Sizeof(v4l2_buffer{}))
	VIDIOC_STREAMON    = ioc(iocWrite, 'V', 18, unsafe.Sizeof(int32(0)))
	VIDIOC_STREAMOFF   = ioc(iocWrite, 'V', 19, unsafe.Sizeof(int32(0)))
	VIDIOC_S_EXT_CTRLS = ioc(iocRead|iocWrite, 'V', 72, unsafe.Sizeof(v4l2_ext_controls{}))
)

var nativeEndian binary.ByteOrder

func init() {
	var probe uint16 = 1
	if *(*byte)(unsafe.Pointer(&probe)) == 1 {
		nativeEndian = binary.LittleEndian
	} else {
		nativeEndian = binary.BigEndian
	}
}
