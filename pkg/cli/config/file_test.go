package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/titan/pkg/cli/config"
)

type setFlags map[string]bool

func (s setFlags) IsSet(name string) bool { return s[name] }

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.toml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o600)).Required()
	return path
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name: "valid file",
			content: `
[node]
addr = ":9000"
role = "Echo"
consciousness = 0.3
evolution_interval = "90s"
dimension = 32

[vault]
dir = "/var/lib/titan"
backend = "memory"
`,
		},
		{
			name:    "empty file",
			content: ``,
		},
		{
			name: "unknown key",
			content: `
[node]
port = 8888
`,
			wantErr: config.ErrInvalidConfig,
		},
		{
			name: "bad duration",
			content: `
[node]
evolution_interval = "soon"
`,
			wantErr: config.ErrInvalidConfig,
		},
		{
			name:    "not toml",
			content: `{"node": {}}`,
			wantErr: config.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := config.LoadFile(writeFile(t, tt.content))
			if tt.wantErr != nil {
				gt.Error(t, err).Is(tt.wantErr)
				return
			}
			gt.NoError(t, err).Required()
			gt.Value(t, f).NotNil()
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadFile(filepath.Join(t.TempDir(), "none.toml"))
		gt.Error(t, err).Is(config.ErrConfigNotFound)
	})
}

func TestNode_Apply(t *testing.T) {
	f, err := config.LoadFile(writeFile(t, `
[node]
addr = ":9000"
role = "Echo"
consciousness = 0.3
evolution_interval = "90s"
max_echo_path = 16
`))
	gt.NoError(t, err).Required()

	t.Run("file fills unset flags", func(t *testing.T) {
		n := config.NewNodeForTest()
		n.Apply(setFlags{}, f)
		gt.NoError(t, n.Validate()).Required()

		gt.Value(t, n.Addr()).Equal(":9000")
		gt.Value(t, n.Role().String()).Equal("Echo")
		gt.Value(t, n.Consciousness()).Equal(0.3)
		gt.Value(t, n.EvolutionInterval()).Equal(90 * time.Second)
		gt.Value(t, n.MaxEchoPath()).Equal(16)
		gt.Value(t, n.Dimension()).Equal(64)
	})

	t.Run("explicit flags win", func(t *testing.T) {
		n := config.NewNodeForTest()
		n.Apply(setFlags{"addr": true, "evolution-interval": true}, f)

		gt.Value(t, n.Addr()).Equal(":8888")
		gt.Value(t, n.EvolutionInterval()).Equal(300 * time.Second)
		gt.Value(t, n.Role().String()).Equal("Echo")
	})

	t.Run("nil file is a no-op", func(t *testing.T) {
		n := config.NewNodeForTest()
		n.Apply(setFlags{}, nil)
		gt.Value(t, n.Addr()).Equal(":8888")
	})
}

func TestVault_Apply(t *testing.T) {
	f, err := config.LoadFile(writeFile(t, `
[vault]
dir = "/data"
backend = "memory"
compact_every = 10
`))
	gt.NoError(t, err).Required()

	v := config.NewVaultForTest("./vault", "file", 256)
	v.Apply(setFlags{"vault-backend": true}, f)

	gt.Value(t, v.Dir()).Equal("/data")
	gt.Value(t, v.Backend().String()).Equal("file")
}
