// +build linux

package v4l2

import (
	"io"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// A V4L2 character device in capture mode, memory-mapped with a single
// kernel buffer.
type device struct {
	path string
	fd   int
	mmap []byte
}

func openDevice(path string) (*device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	return &device{path: path, fd: fd}, nil
}

func (dev *device) Close() error {
	if dev.mmap != nil {
		dev.streamOff()
		dev.unmapMemory()
	}
	return unix.Close(dev.fd)
}

func (dev *device) ioctl(request uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(dev.fd),
		uintptr(request),
		uintptr(arg),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func (dev *device) queryBuffer(n uint32) (length, offset uint32, err error) {
	qb := v4l2_buffer{
		index:  n,
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	if err = dev.ioctl(VIDIOC_QUERYBUF, unsafe.Pointer(&qb)); err != nil {
		return
	}

	length = qb.length
	offset = nativeEndian.Uint32(qb.m[0:4])
	return
}

func (dev *device) requestBuffers(n int) error {
	rb := v4l2_requestbuffers{
		count:  uint32(n),
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	return dev.ioctl(VIDIOC_REQBUFS, unsafe.Pointer(&rb))
}

func (dev *device) mapMemory() error {
	if err := dev.requestBuffers(1); err != nil {
		return err
	}

	length, offset, err := dev.queryBuffer(0)
	if err != nil {
		return err
	}

	dev.mmap, err = unix.Mmap(
		dev.fd,
		int64(offset),
		int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	return err
}

func (dev *device) unmapMemory() error {
	if dev.mmap != nil {
		if err := unix.Munmap(dev.mmap); err != nil {
			return err
		}
		dev.mmap = nil
	}
	return dev.requestBuffers(0)
}

func (dev *device) enqueue(index int) error {
	qbuf := v4l2_buffer{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
		index:  uint32(index),
	}
	return dev.ioctl(VIDIOC_QBUF, unsafe.Pointer(&qbuf))
}

func (dev *device) dequeue(index int) (int, error) {
	dqbuf := v4l2_buffer{
		typ:   V4L2_BUF_TYPE_VIDEO_CAPTURE,
		index: uint32(index),
	}
	err := dev.ioctl(VIDIOC_DQBUF, unsafe.Pointer(&dqbuf))
	return int(dqbuf.bytesused), err
}

func (dev *device) setCodecControl(id uint32, value int32) error {
	ctrls := [1]v4l2_ext_control{{id: id}}
	nativeEndian.PutUint32(ctrls[0].value[:], uint32(value))

	extctrls := v4l2_ext_controls{
		ctrl_class: V4L2_CTRL_CLASS_MPEG,
		count:      1,
		controls:   unsafe.Pointer(&ctrls),
	}
	return dev.ioctl(VIDIOC_S_EXT_CTRLS, unsafe.Pointer(&extctrls))
}

func (dev *device) setPixelFormat(width, height, format int) error {
	pfmt := v4l2_pix_format{
		width:       uint32(width),
		height:      uint32(height),
		pixelformat: uint32(format),
		field:       V4L2_FIELD_ANY,
	}
	f := v4l2_format{
		typ: V4L2_BUF_TYPE_VIDEO_CAPTURE,
		fmt: pfmt.marshal(),
	}
	return dev.ioctl(VIDIOC_S_FMT, unsafe.Pointer(&f))
}

func (dev *device) setBitrate(bitrate int) error {
	return dev.setCodecControl(V4L2_CID_MPEG_VIDEO_BITRATE, int32(bitrate))
}

// setGOPSize sets the IDR period in frames.
func (dev *device) setGOPSize(frames int) error {
	return dev.setCodecControl(V4L2_CID_MPEG_VIDEO_H264_I_PERIOD, int32(frames))
}

// setRepeatSequenceHeader makes the encoder emit SPS/PPS ahead of every IDR
// frame rather than once at stream start.
func (dev *device) setRepeatSequenceHeader(on bool) error {
	var value int32
	if on {
		value = 1
	}
	return dev.setCodecControl(V4L2_CID_MPEG_VIDEO_REPEAT_SEQ_HEADER, value)
}

// start maps the kernel buffer and enables streaming.
func (dev *device) start() error {
	if err := dev.mapMemory(); err != nil {
		return err
	}
	if err := dev.enqueue(0); err != nil {
		return err
	}

	typ := int32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	return dev.ioctl(VIDIOC_STREAMON, unsafe.Pointer(&typ))
}

// streamOff disables streaming, which also releases any blocked dequeue.
// The buffer mapping stays valid until Close, since the reader may still be
// copying out of it.
func (dev *device) streamOff() error {
	typ := int32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	return dev.ioctl(VIDIOC_STREAMOFF, unsafe.Pointer(&typ))
}

// readFrame blocks until the encoder delivers a buffer, then copies it out
// and re-enqueues the kernel buffer. Returns io.EOF once streaming is off.
func (dev *device) readFrame() ([]byte, error) {
	n, err := dev.dequeue(0)
	if err != nil {
		if err == syscall.EINVAL {
			err = io.EOF
		}
		return nil, err
	}

	out := append([]byte(nil), dev.mmap[:n]...)

	if err := dev.enqueue(0); err != nil {
		return out, err
	}
	return out, nil
}
