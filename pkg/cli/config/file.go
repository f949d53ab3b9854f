package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

// File is the optional TOML node file. Every field is optional; a value is
// only used when the matching flag was not set on the command line or by env.
type File struct {
	Node  NodeFile  `toml:"node"`
	Vault VaultFile `toml:"vault"`
}

// NodeFile is the [node] table
type NodeFile struct {
	Addr              *string   `toml:"addr"`
	Role              *string   `toml:"role"`
	Consciousness     *float64  `toml:"consciousness"`
	EvolutionInterval *Duration `toml:"evolution_interval"`
	Dimension         *int      `toml:"dimension"`
	HiddenDim         *int      `toml:"hidden_dim"`
	TransformSeed     *uint64   `toml:"transform_seed"`
	MaxEchoPath       *int      `toml:"max_echo_path"`
	StatusInterval    *Duration `toml:"status_interval"`
}

// VaultFile is the [vault] table
type VaultFile struct {
	Dir          *string `toml:"dir"`
	Backend      *string `toml:"backend"`
	CompactEvery *int    `toml:"compact_every"`
}

// Duration decodes TOML strings such as "300s" or "5m"
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid duration", goerr.V(ValueKey, string(text)))
	}
	*d = Duration(v)
	return nil
}

// LoadFile reads and decodes a node file. Unknown keys are rejected.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "node file not found", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read node file", goerr.V(ConfigPathKey, path))
	}

	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse node file",
			goerr.V(ConfigPathKey, path), goerr.V("cause", err.Error()))
	}
	return &f, nil
}

// FlagSource reports whether a flag was given explicitly. *cli.Command satisfies it.
type FlagSource interface {
	IsSet(name string) bool
}

func override[T any](src FlagSource, flag string, dst *T, v *T) {
	if v == nil || src.IsSet(flag) {
		return
	}
	*dst = *v
}
