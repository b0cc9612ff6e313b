package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Logging level. Higher values indicate more verbosity.
type Level int

const (
	Error Level = iota - 2
	Warn
	Info
	Debug
)

const envVar = "LOGLEVEL"

// Default level, overridable by the LOGLEVEL environment variable.
var defaultLevel = Info

// Per-tag level overrides, parsed from comma-separated "tag=level"
// directives in LOGLEVEL. A directive without "tag=" sets the default.
var tagLevels = map[string]Level{}

func init() {
	for _, d := range strings.Split(os.Getenv(envVar), ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid %s directive '%s': %s\n", envVar, d, err)
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels[v[0]] = level
		}
	}
	DefaultLogger.Level = defaultLevel
}

func parseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "E", "ERROR":
		return Error, nil
	case "W", "WARN":
		return Warn, nil
	case "I", "INFO":
		return Info, nil
	case "D", "DEBUG":
		return Debug, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || Level(n) < Error || Level(n) > Debug {
		return 0, fmt.Errorf("invalid logging level: %s", s)
	}
	return Level(n), nil
}

func determineLevel(tag string, fallback Level) Level {
	if level, ok := tagLevels[tag]; ok {
		return level
	}
	return fallback
}

func (l Level) String() string {
	switch l {
	case Error:
		return "Error"
	case Warn:
		return "Warn"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return strconv.Itoa(int(l))
	}
}

func (l Level) letter() byte {
	if l >= Error && l <= Debug {
		return "EWID"[l-Error]
	}
	return '?'
}

func (l Level) color() string {
	switch l {
	case Error:
		return "\033[1;31m"
	case Warn:
		return "\033[31m"
	case Debug:
		return "\033[32m"
	default:
		return "\033[0m"
	}
}
