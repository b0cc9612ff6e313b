// +build !linux

// Video4Linux is a Linux-specific API. On other platforms this package
// registers no drivers.
package v4l2
