// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-superkey.
//
// go-superkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rand resolves the random number source used for initialization
// vectors. A hardware source exposed by the active key store (PKCS#11
// C_GenerateRandom or TPM2_GetRandom) is preferred; crypto/rand is the
// software source and the fallback.
//
// Applications configure the resolver at startup:
//
//	rng, _ := rand.NewResolver(&rand.Config{Mode: rand.ModeAuto, Hardware: src})
//	iv, _ := rng.Rand(12)
//
// All Resolver implementations are safe for concurrent use.
package rand

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// Mode specifies which RNG source to use.
type Mode string

const (
	// ModeAuto uses the hardware source when one is supplied and
	// available, otherwise software.
	ModeAuto Mode = "auto"

	// ModeSoftware uses crypto/rand
	ModeSoftware Mode = "software"

	// ModeHardware requires the hardware source
	ModeHardware Mode = "hardware"
)

var (
	// ErrNoHardware is returned by ModeHardware without a usable source.
	ErrNoHardware = errors.New("rand: hardware source unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("rand: resolver closed")

	// ErrShortRead is returned when a source yields fewer bytes than asked.
	ErrShortRead = errors.New("rand: short read")
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSoftware, ModeHardware:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown RNG mode: %s", s)
	}
}

// Config contains RNG configuration.
type Config struct {
	// Mode specifies the primary RNG source. Defaults to ModeAuto.
	Mode Mode

	// Hardware is the key store's RNG, if it has one.
	Hardware Source

	// Fallback retries with crypto/rand when the hardware source fails.
	Fallback bool
}

// Source represents a random number generator.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string

	// Rand returns n random bytes.
	Rand(n int) ([]byte, error)

	// Available returns true if this source is ready.
	Available() bool

	// Close releases the source. Sources borrowed from a key store
	// leave the device open.
	Close() error
}

// Resolver provides the random bytes for IV generation. It also
// implements io.Reader so it can stand in for crypto/rand.Reader.
type Resolver interface {
	Rand(n int) ([]byte, error)
	Read(p []byte) (n int, err error)
	Source() Source
	Available() bool
	Close() error
}

// NewResolver creates a resolver from cfg. A nil config selects auto mode
// without a hardware source, which is software.
func NewResolver(cfg *Config) (Resolver, error) {
	if cfg == nil {
		cfg = &Config{Mode: ModeAuto}
	}
	switch cfg.Mode {
	case "", ModeAuto:
		if cfg.Hardware != nil && cfg.Hardware.Available() {
			return newHardwareResolver(cfg.Hardware, cfg.Fallback), nil
		}
		return NewSoftware(), nil
	case ModeSoftware:
		return NewSoftware(), nil
	case ModeHardware:
		if cfg.Hardware == nil || !cfg.Hardware.Available() {
			return nil, ErrNoHardware
		}
		return newHardwareResolver(cfg.Hardware, cfg.Fallback), nil
	default:
		return nil, fmt.Errorf("unknown RNG mode: %s", cfg.Mode)
	}
}

// SoftwareResolver uses crypto/rand from the Go standard library.
type SoftwareResolver struct{}

// NewSoftware returns the crypto/rand resolver.
func NewSoftware() *SoftwareResolver {
	return &SoftwareResolver{}
}

func (s *SoftwareResolver) Rand(n int) ([]byte, error) {
	return softwareSource{}.Rand(n)
}

func (s *SoftwareResolver) Read(p []byte) (int, error) {
	return rand.Read(p)
}

func (s *SoftwareResolver) Source() Source {
	return softwareSource{}
}

func (s *SoftwareResolver) Available() bool {
	return true
}

func (s *SoftwareResolver) Close() error {
	return nil
}

type softwareSource struct{}

func (softwareSource) Name() string { return string(ModeSoftware) }

func (softwareSource) Rand(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("rand: negative length %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (softwareSource) Available() bool { return true }

func (softwareSource) Close() error { return nil }

// hardwareResolver draws from a key store source, optionally falling
// back to software on error.
type hardwareResolver struct {
	mu       sync.RWMutex
	source   Source
	fallback bool
	closed   bool
}

func newHardwareResolver(src Source, fallback bool) *hardwareResolver {
	return &hardwareResolver{source: src, fallback: fallback}
}

func (h *hardwareResolver) Rand(n int) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, ErrClosed
	}
	b, err := h.source.Rand(n)
	if err == nil && len(b) != n {
		err = fmt.Errorf("%w: %s returned %d of %d bytes", ErrShortRead, h.source.Name(), len(b), n)
	}
	if err != nil {
		if h.fallback {
			return softwareSource{}.Rand(n)
		}
		return nil, fmt.Errorf("rand: %s: %w", h.source.Name(), err)
	}
	return b, nil
}

func (h *hardwareResolver) Read(p []byte) (int, error) {
	b, err := h.Rand(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

func (h *hardwareResolver) Source() Source {
	return h.source
}

func (h *hardwareResolver) Available() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.closed && (h.source.Available() || h.fallback)
}

func (h *hardwareResolver) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.source.Close()
}
