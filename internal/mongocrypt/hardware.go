package mongocrypt

import (
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/cpu"

	"github.com/mongocrypt-go/core/internal/config"
)

// HasAESHardwareSupport reports whether the running CPU has AES-NI (or its
// ARMv8/s390x equivalent), moved verbatim in spirit from the teacher's
// internal/crypto/hardware.go — chacha20poly1305 doesn't benefit from
// AES-NI the way the teacher's AES-GCM path did, but callers still want to
// know whether AES-backed KMS providers on the wrapping side run fast.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	case "s390x":
		return cpu.S390X.HasAES
	default:
		return false
	}
}

// IsHardwareAccelerationEnabled reports whether hardware AES is both
// present and enabled under cfg.
func IsHardwareAccelerationEnabled(cfg config.HardwareConfig) bool {
	if !HasAESHardwareSupport() {
		return false
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		return cfg.EnableAESNI
	case "arm64":
		return cfg.EnableARMv8AES
	default:
		return true
	}
}

// HardwareAccelerationInfo returns diagnostic fields suitable for a
// /debug or startup log line.
func HardwareAccelerationInfo(cfg config.HardwareConfig) map[string]any {
	return map[string]any{
		"aes_hardware_support":         HasAESHardwareSupport(),
		"architecture":                 runtime.GOARCH,
		"goos":                         runtime.GOOS,
		"go_version":                   runtime.Version(),
		"aes_ni_enabled":               cfg.EnableAESNI,
		"armv8_aes_enabled":            cfg.EnableARMv8AES,
		"hardware_acceleration_active": IsHardwareAccelerationEnabled(cfg),
	}
}

func logHardwareStatus(log *logrus.Logger) {
	log.WithField("aes_hardware_support", HasAESHardwareSupport()).
		WithField("architecture", runtime.GOARCH).
		Debug("hardware acceleration probe")
}
