package platform

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type Device string

const (
	DeviceAuto Device = "auto"
	DeviceGPU  Device = "gpu"
	DeviceCPU  Device = "cpu"
)

func ParseDevice(value string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(value))) {
	case "", DeviceAuto:
		return DeviceAuto, nil
	case DeviceGPU, "cuda", "metal":
		return DeviceGPU, nil
	case DeviceCPU:
		return DeviceCPU, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, gpu or cpu)", value)
	}
}

// Probe reports what the host can offer. Fields are hooks so tests can fake
// the filesystem and $PATH.
type Probe struct {
	Runtime  Runtime
	Stat     func(string) (os.FileInfo, error)
	LookPath func(string) (string, error)
}

func DefaultProbe() Probe {
	return Probe{Runtime: CurrentRuntime(), Stat: os.Stat, LookPath: exec.LookPath}
}

// HasAccelerator reports whether whisper.cpp can be expected to find a GPU:
// Metal on Apple silicon, or an NVIDIA driver on Linux.
func (p Probe) HasAccelerator() bool {
	if p.Runtime.OS == "darwin" && p.Runtime.Arch == "arm64" {
		return true
	}
	if p.Runtime.OS != "linux" {
		return false
	}
	if p.Stat != nil {
		if _, err := p.Stat("/dev/nvidia0"); err == nil {
			return true
		}
	}
	if p.LookPath != nil {
		if _, err := p.LookPath("nvidia-smi"); err == nil {
			return true
		}
	}
	return false
}

// SelectDevice turns the requested device into the one that will be used. The
// returned bool is false when auto selection fell back to the CPU.
func (p Probe) SelectDevice(requested Device) (Device, bool) {
	switch requested {
	case DeviceCPU:
		return DeviceCPU, true
	case DeviceGPU:
		return DeviceGPU, true
	}
	if p.HasAccelerator() {
		return DeviceGPU, true
	}
	return DeviceCPU, false
}
