package simrt

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/host"
	"gopkg.in/yaml.v3"
)

// Profile describes the simulated device. Loaded from YAML so probe runs can
// model different headsets without recompiling.
type Profile struct {
	RuntimeName    string `yaml:"runtimeName"`
	RuntimeVersion string `yaml:"runtimeVersion"`
	SystemName     string `yaml:"systemName"`
	VendorID       uint32 `yaml:"vendorId"`

	ViewCount  int    `yaml:"viewCount"`
	ViewWidth  uint32 `yaml:"viewWidth"`
	ViewHeight uint32 `yaml:"viewHeight"`
	ImageCount int    `yaml:"imageCount"`

	// MissingFunctions are withheld from the resolver, to exercise the
	// layer's degradation paths.
	MissingFunctions []string `yaml:"missingFunctions"`
}

// DefaultProfile models a common standalone stereo headset.
func DefaultProfile() Profile {
	return Profile{
		RuntimeName:    "xrmirror-simrt",
		RuntimeVersion: "1.0.0",
		SystemName:     "Simulated HMD",
		VendorID:       0x10de,
		ViewCount:      2,
		ViewWidth:      1832,
		ViewHeight:     1920,
		ImageCount:     3,
	}
}

// LoadProfile reads a YAML profile and fills gaps from the default.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func (p Profile) validate() error {
	if p.ViewCount < 1 || p.ViewCount > 4 {
		return fmt.Errorf("viewCount %d out of range", p.ViewCount)
	}
	if p.ViewWidth == 0 || p.ViewHeight == 0 {
		return fmt.Errorf("view geometry %dx%d invalid", p.ViewWidth, p.ViewHeight)
	}
	if p.ImageCount < 1 || p.ImageCount > 8 {
		return fmt.Errorf("imageCount %d out of range", p.ImageCount)
	}
	return nil
}

// systemName decorates the profile's device name with the host platform, the
// way real runtimes bake driver and OS details into xrGetSystemProperties.
func (p Profile) systemName() string {
	info, err := host.Info()
	if err != nil || info.Platform == "" {
		return p.SystemName
	}
	return fmt.Sprintf("%s on %s %s", p.SystemName, info.Platform, info.PlatformVersion)
}
