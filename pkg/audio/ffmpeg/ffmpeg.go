// Package ffmpeg provides microphone capture and speaker output backed by
// ffmpeg and ffplay subprocesses. It is the default device implementation on
// systems where ffmpeg is installed; no cgo audio bindings required.
package ffmpeg

import (
	"fmt"
	"runtime"
	"strings"
)

const readChunkBytes = 16 * 1024

// defaultInputArgs returns the platform-specific ffmpeg input selector.
// device is the capture device name or index; empty picks the system default.
func defaultInputArgs(device string) []string {
	switch runtime.GOOS {
	case "darwin":
		// `none:<index>` avoids opening a video device alongside the mic.
		idx := device
		if idx == "" {
			idx = "0"
		}
		return []string{"-f", "avfoundation", "-i", "none:" + idx}
	default:
		dev := device
		if dev == "" {
			dev = "default"
		}
		return []string{"-f", "alsa", "-i", dev}
	}
}

// chLayout maps a channel count to ffplay's -ch_layout value. ffplay does
// not accept ffmpeg-style -ac.
func chLayout(channels int) string {
	if channels == 2 {
		return "stereo"
	}
	return "mono"
}

func binaryOr(path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		return fallback
	}
	return path
}

func itoa(v int) string { return fmt.Sprintf("%d", v) }
