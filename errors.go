package screencap

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// Start was called on a recorder that has already run its session.
	ErrRecorderClosed = errors.New("recorder closed")

	// Start was called with no video encoder configured.
	ErrNoVideoEncoder = errors.New("no video encoder configured")
)

// ConfigError reports an encoder or source setup failure before any frame
// was produced. It is fatal: Start aborts and the recorder is closed.
type ConfigError struct {
	Stage string // "video" or "audio"
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s configuration failed: %v", e.Stage, e.Err)
}

// Cause supports pkg/errors unwrapping.
func (e *ConfigError) Cause() error {
	return e.Err
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
