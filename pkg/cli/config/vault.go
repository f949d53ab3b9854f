package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/domain/types"
	"github.com/secmon-lab/titan/pkg/repository/file"
	"github.com/secmon-lab/titan/pkg/repository/memory"
	"github.com/secmon-lab/titan/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const DefaultVaultDir = "./vault"

// Vault holds CLI flags for memory vault configuration
type Vault struct {
	dir          string
	backend      string
	compactEvery int
}

// Flags returns CLI flags for vault configuration
func (v *Vault) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vault-dir",
			Usage:       "Directory holding the memory vault and the node identity",
			Value:       DefaultVaultDir,
			Category:    "Vault",
			Sources:     cli.EnvVars("TITAN_VAULT_DIR"),
			Destination: &v.dir,
		},
		&cli.StringFlag{
			Name:        "vault-backend",
			Usage:       "Vault backend type (file or memory)",
			Value:       types.VaultBackendFile.String(),
			Category:    "Vault",
			Sources:     cli.EnvVars("TITAN_VAULT_BACKEND"),
			Destination: &v.backend,
		},
		&cli.IntFlag{
			Name:        "compact-every",
			Usage:       "Number of log entries that triggers a vault snapshot (file backend)",
			Value:       file.DefaultCompactEvery,
			Category:    "Vault",
			Sources:     cli.EnvVars("TITAN_COMPACT_EVERY"),
			Destination: &v.compactEvery,
		},
	}
}

// Apply copies values from the [vault] table of f for every flag that was not set explicitly
func (v *Vault) Apply(src FlagSource, f *File) {
	if f == nil {
		return
	}
	override(src, "vault-dir", &v.dir, f.Vault.Dir)
	override(src, "vault-backend", &v.backend, f.Vault.Backend)
	override(src, "compact-every", &v.compactEvery, f.Vault.CompactEvery)
}

// Validate checks if the Vault config is valid
func (v *Vault) Validate() error {
	if v.dir == "" {
		return goerr.Wrap(ErrInvalidConfig, "vault directory is required", goerr.V(FlagKey, "vault-dir"))
	}
	if !types.VaultBackend(v.backend).IsValid() {
		return goerr.Wrap(ErrInvalidConfig, "invalid vault backend",
			goerr.V(FlagKey, "vault-backend"), goerr.V(ValueKey, v.backend),
			goerr.V("allowed", types.AllVaultBackends()))
	}
	return nil
}

// Dir returns the vault directory
func (v *Vault) Dir() string { return v.dir }

// Backend returns the configured backend type
func (v *Vault) Backend() types.VaultBackend { return types.VaultBackend(v.backend) }

// Configure opens the vault for the configured backend.
// The caller is responsible for calling Close() on the returned vault.
func (v *Vault) Configure(ctx context.Context, dimension int) (interfaces.VaultRepository, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	switch v.Backend() {
	case types.VaultBackendFile:
		vault, err := file.New(ctx, v.dir, dimension, file.WithCompactEvery(v.compactEvery))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open file vault", goerr.V("dir", v.dir))
		}
		return vault, nil

	case types.VaultBackendMemory:
		logging.From(ctx).Info("Using in-memory vault (memories are lost on exit)")
		return memory.New(dimension), nil

	default:
		return nil, goerr.Wrap(ErrInvalidConfig, "invalid vault backend", goerr.V(ValueKey, v.backend))
	}
}

// LogValue implements slog.LogValuer
func (v *Vault) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("dir", v.dir),
		slog.String("backend", v.backend),
		slog.Int("compact_every", v.compactEvery),
	)
}
