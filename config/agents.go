package config

// Device describes a device to emulate
type Device struct {
	UserAgent   string
	Width       int
	Height      int
	ScaleFactor float64
	Mobile      bool
}

// See https://chromium.googlesource.com/chromium/src/+/main/third_party/blink/renderer/core/frame/device_presets
var devices = map[string]Device{
	"nexus6p": {
		UserAgent:   "Mozilla/5.0 (Linux; Android 5.1.1; Nexus 6 Build/LYZ28E) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Mobile Safari/537.36",
		Width:       412,
		Height:      732,
		ScaleFactor: 3.5,
		Mobile:      true,
	},
	"iphone6p": {
		UserAgent:   "Mozilla/5.0 (iPhone; CPU iPhone OS 8_0 like Mac OS X) AppleWebKit/600.1.3 (KHTML, like Gecko) Version/8.0 Mobile/12A4345d Safari/600.1.4",
		Width:       414,
		Height:      736,
		ScaleFactor: 3.0,
		Mobile:      true,
	},
}

// LookupDevice returns the preset registered under name.
func LookupDevice(name string) (Device, bool) {
	d, ok := devices[name]
	return d, ok
}

// Emulation resolves the agent setting: a preset name yields its device,
// anything else is a plain user agent override at the configured size.
func (c *Config) Emulation() Device {
	if d, ok := LookupDevice(c.Agent); ok {
		return d
	}
	return Device{
		UserAgent:   c.Agent,
		Width:       c.Width,
		Height:      c.Height,
		ScaleFactor: 1,
	}
}
