package chrome

import (
	"fmt"
	"log"

	"github.com/chromedp/chromedp/device"
)

// ViewportPreset describes the window a tour is recorded and replayed in.
// Presets are seeded into the database at startup so the frontend can list
// them; the chrome layer only needs the launch and emulation parameters.
type ViewportPreset struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	UserAgent string `json:"user_agent"`
	Mobile    bool   `json:"mobile"`
	Touch     bool   `json:"touch"`
}

const DefaultPresetName = "Desktop 1080p"

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	tabletUA  = "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
)

// Presets is the built-in viewport catalog.
var Presets = []ViewportPreset{
	{Name: "Desktop 1080p", Width: 1920, Height: 1080, UserAgent: desktopUA},
	{Name: "Desktop 1440p", Width: 2560, Height: 1440, UserAgent: desktopUA},
	{Name: "Laptop", Width: 1366, Height: 768, UserAgent: desktopUA},
	{Name: "Tablet", Width: 768, Height: 1024, UserAgent: tabletUA, Mobile: true, Touch: true},
	{Name: "Mobile", Width: 390, Height: 844, UserAgent: mobileUA, Mobile: true, Touch: true},
}

// PresetByName returns the named preset, falling back to the default so a
// stale viewport name on an old tour never blocks a replay.
func PresetByName(name string) ViewportPreset {
	for _, p := range Presets {
		if p.Name == name {
			return p
		}
	}
	if name != "" {
		log.Printf("⚠️ Viewport preset '%s' not found, using %s", name, DefaultPresetName)
	}
	return Presets[0]
}

// Device converts the preset for chromedp.Emulate. Scale stays at 1.0 so
// emulated pages render at CSS pixel size instead of zooming the text.
func (p ViewportPreset) Device() device.Info {
	return device.Info{
		Name:      p.Name,
		UserAgent: p.UserAgent,
		Width:     int64(p.Width),
		Height:    int64(p.Height),
		Scale:     1.0,
		Mobile:    p.Mobile,
		Touch:     p.Touch,
	}
}

// Args returns the Chrome command line arguments that match the preset, so
// the window the author sees agrees with the emulated viewport.
func (p ViewportPreset) Args() []string {
	args := []string{
		"--user-agent=" + p.UserAgent,
		fmt.Sprintf("--window-size=%d,%d", p.Width, p.Height),
		"--force-device-scale-factor=1.0",
	}
	if p.Touch {
		args = append(args, "--touch-events=enabled")
	} else {
		args = append(args, "--touch-events=disabled")
	}
	if p.Mobile {
		args = append(args, "--enable-viewport-meta", "--enable-features=OverlayScrollbar")
	}
	return args
}
