// +build !linux !cgo

// ALSA is a Linux-specific API. On other platforms this package registers
// no drivers.
package alsa
