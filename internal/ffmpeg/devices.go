package ffmpeg

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
)

// deckLinkDeviceLine matches lines such as
//
//	[decklink @ 0x7f8b4c004600] 	'DeckLink Mini Recorder'
var deckLinkDeviceLine = regexp.MustCompile(`\[decklink @ [^\]]+\]\s+'([^']+)'`)

// ListDeckLinkDevices lists the DeckLink devices FFmpeg can open.
func (f *FFmpeg) ListDeckLinkDevices(ctx context.Context) ([]string, error) {
	args := []string{"-hide_banner", "-f", "decklink", "-list_devices", "1", "-i", "dummy"}
	cmd := exec.CommandContext(ctx, f.binaryPath, args...)
	output, _ := cmd.CombinedOutput() // Exits non-zero but prints the device list
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ParseDeckLinkDevices(string(output)), nil
}

// ParseDeckLinkDevices extracts device names from `-list_devices` output.
func ParseDeckLinkDevices(output string) []string {
	var devices []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		m := deckLinkDeviceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		devices = append(devices, name)
	}
	return devices
}
