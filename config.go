// Completion: 100% - Project configuration complete
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/thumbjit/internal/engine"
	"github.com/xyproto/thumbjit/internal/thumb"
)

const configFileName = "thumbjit.toml"

// ProjectConfig is the contents of a thumbjit.toml file.
// Unset fields leave the environment and defaults alone.
type ProjectConfig struct {
	Arch      string           `toml:"arch"`
	Pool      string           `toml:"pool"`
	PoolRange int              `toml:"pool-range"`
	MaxCode   int              `toml:"max-code"`
	Verbose   bool             `toml:"verbose"`
	Symbols   map[string]int64 `toml:"symbols"`
	Image     ImageConfig      `toml:"image"`

	// Path is the file the configuration was read from (set at load time)
	Path string `toml:"-"`
}

// ImageConfig configures build --image output
type ImageConfig struct {
	IncludeSource bool `toml:"include-source"`
}

// LoadProjectConfig parses a thumbjit.toml file
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var pc ProjectConfig
	if err := toml.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for name, addr := range pc.Symbols {
		if addr < 0 || addr > 0xFFFFFFFF {
			return nil, fmt.Errorf("%s: symbol %s: address %#x does not fit in 32 bits", path, name, addr)
		}
	}
	pc.Path = path
	return &pc, nil
}

// FindProjectConfig walks up from startDir looking for thumbjit.toml.
// It returns nil, nil when there is none.
func FindProjectConfig(startDir string) (*ProjectConfig, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, configFileName)
		if _, err := os.Stat(path); err == nil {
			return LoadProjectConfig(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Apply layers the file settings over cfg and arch
func (pc *ProjectConfig) Apply(cfg thumb.Config, arch engine.Arch) (thumb.Config, engine.Arch, error) {
	if pc.Arch != "" {
		a, err := engine.ParseArch(pc.Arch)
		if err != nil {
			return cfg, arch, fmt.Errorf("%s: %w", pc.Path, err)
		}
		arch = a
	}
	if pc.Pool != "" {
		p, err := thumb.ParsePoolPolicy(pc.Pool)
		if err != nil {
			return cfg, arch, fmt.Errorf("%s: %w", pc.Path, err)
		}
		cfg.Pool = p
	}
	if pc.PoolRange != 0 {
		cfg.PoolRange = pc.PoolRange
	}
	if pc.MaxCode != 0 {
		cfg.MaxCodeSize = pc.MaxCode
	}
	if pc.Verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, arch, fmt.Errorf("%s: %w", pc.Path, err)
	}
	return cfg, arch, nil
}
