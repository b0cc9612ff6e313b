package capture

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Open a video encoder based on its "driver spec". A driver spec is a
// colon-separated string consisting of a driver tag and a driver path:
//    driverSpec = driverTag + ":" + driverPath
// The format of the driver path is defined by the registered open function.
func OpenVideoEncoder(spec string) (VideoEncoder, error) {
	tag, path := splitSpec(spec)
	if open, found := videoDrivers[tag]; found {
		return open(path)
	}
	return nil, errors.Errorf("Video driver '%s' not registered (have %v)", tag, driverTags(videoDrivers))
}

// Open an audio capture stack (raw source plus hardware encoder) based on
// its driver spec.
func OpenAudioStack(spec string) (AudioSource, AudioEncoder, error) {
	tag, path := splitSpec(spec)
	if open, found := audioDrivers[tag]; found {
		return open(path)
	}
	return nil, nil, errors.Errorf("Audio driver '%s' not registered", tag)
}

type VideoDriverFunc func(path string) (VideoEncoder, error)

type AudioDriverFunc func(path string) (AudioSource, AudioEncoder, error)

var (
	videoDrivers = map[string]VideoDriverFunc{}
	audioDrivers = map[string]AudioDriverFunc{}
)

// Register a video encoder driver, identified by its driver tag.
func RegisterVideoDriver(tag string, open VideoDriverFunc) {
	videoDrivers[tag] = open
}

// Register an audio capture driver, identified by its driver tag.
func RegisterAudioDriver(tag string, open AudioDriverFunc) {
	audioDrivers[tag] = open
}

// HasAudioDriver reports whether any audio capture capability is available.
// Callers use this to negotiate audio off and record video-only.
func HasAudioDriver(spec string) bool {
	tag, _ := splitSpec(spec)
	_, found := audioDrivers[tag]
	return found
}

func splitSpec(spec string) (tag, path string) {
	parts := strings.SplitN(spec, ":", 2)
	tag = parts[0]
	if len(parts) == 2 {
		path = parts[1]
	}
	return
}

func driverTags(m map[string]VideoDriverFunc) []string {
	var tags []string
	for t := range m {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
