package cli_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/titan/pkg/cli"
	"github.com/secmon-lab/titan/pkg/cli/config"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/repository/file"
	"github.com/secmon-lab/titan/pkg/service/identity"
)

const scenario = `{"glyph":"Ω7","payload":{"thought":"test","origin":"X","pulse":35.0,"sig_strength":0.8,"timestamp":"t"},"confidence":"alpha-wave","hop_signature":"quantum-lock:v1","echo_path":["EM-abc"],"metadata":{}}`

func startNode(t *testing.T, dir string) (wsURL string, stop func()) {
	t.Helper()
	ctx := context.Background()

	handler, closeNode, err := cli.NewNodeHandlerForTest(ctx,
		config.NewNodeForTest(),
		config.NewVaultForTest(dir, "file", 100),
	)
	gt.NoError(t, err).Required()

	srv := httptest.NewServer(handler)
	var stopped bool
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		srv.Close()
		closeNode()
	}
	t.Cleanup(stop)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", stop
}

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signal_packet.json")
	gt.NoError(t, os.WriteFile(path, []byte(scenario), 0o600)).Required()
	return path
}

func TestEmit_ScenarioReplyIsSignedByNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	url, stop := startNode(t, dir)

	sig, err := cli.LoadSignal(writeScenario(t))
	gt.NoError(t, err).Required()

	resp, err := cli.Emit(ctx, url, sig)
	gt.NoError(t, err).Required()

	gt.Array(t, resp.EchoPath).Length(2)
	gt.String(t, resp.EchoPath[0]).Contains("TN-")
	gt.Value(t, resp.EchoPath[1]).Equal("EM-abc")
	gt.String(t, resp.Payload.Origin).Contains("Titan.")
	gt.String(t, resp.Signature).NotEqual("")

	gt.NoError(t, cli.VerifyReply(ctx, url, resp))

	t.Run("tampered reply is rejected", func(t *testing.T) {
		tampered := *resp
		tampered.Payload.Thought = "forged"
		gt.Error(t, cli.VerifyReply(ctx, url, &tampered)).Is(identity.ErrInvalidSignature)
	})

	t.Run("reply from another origin is rejected", func(t *testing.T) {
		foreign := *resp
		foreign.Payload.Origin = "Titan.00000000"
		gt.Error(t, cli.VerifyReply(ctx, url, &foreign)).Is(identity.ErrInvalidKey)
	})

	stop()

	summary, err := cli.InspectVault(ctx, dir, 64, "", 5)
	gt.NoError(t, err).Required()
	gt.Value(t, summary.Memories).Equal(1)
	gt.Value(t, summary.Dimension).Equal(64)
}

func TestEmit_SampleSignal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url, _ := startNode(t, t.TempDir())

	sig, err := cli.LoadSignal("")
	gt.NoError(t, err).Required()
	gt.Array(t, sig.EchoPath).Length(1)
	gt.String(t, sig.EchoPath[0]).Contains("EM-")

	resp, err := cli.Emit(ctx, url, sig)
	gt.NoError(t, err).Required()
	gt.Array(t, resp.EchoPath).Length(2)
	gt.Value(t, resp.EchoPath[1]).Equal(sig.EchoPath[0])
}

func TestEmit_UnreachableNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	sig, err := cli.LoadSignal("")
	gt.NoError(t, err).Required()
	_, err = cli.Emit(ctx, url, sig)
	gt.Value(t, err).NotNil()
}

func TestLoadSignal_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	gt.NoError(t, os.WriteFile(path, []byte("[1, 2]"), 0o600)).Required()

	_, err := cli.LoadSignal(path)
	gt.Error(t, err).Is(model.ErrMalformedSignal)

	_, err = cli.LoadSignal(filepath.Join(t.TempDir(), "missing.json"))
	gt.Value(t, err).NotNil()
}

func TestIdentityURL(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8888/ws":        "http://localhost:8888/identity",
		"wss://node.example.com/ws?x=1": "https://node.example.com/identity",
		"ws://localhost:8888":           "http://localhost:8888/identity",
		"http://127.0.0.1:9000/":        "http://127.0.0.1:9000/identity",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := cli.IdentityURL(in)
			gt.NoError(t, err).Required()
			gt.Value(t, got).Equal(want)
		})
	}

	_, err := cli.IdentityURL("ftp://localhost/ws")
	gt.Value(t, err).NotNil()
}

func TestInspectVault_Neighbours(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	vault, err := file.New(ctx, dir, 2)
	gt.NoError(t, err).Required()

	add := func(thought string, x, y float32) model.MemoryID {
		id, err := vault.Add(ctx, []float32{x, y}, model.MemoryPayload{
			Signal:             &model.Signal{Glyph: "Γ1", Payload: model.Payload{Thought: thought}},
			ConsciousnessLevel: 0.1,
		})
		gt.NoError(t, err).Required()
		return id
	}
	origin := add("origin", 0, 0)
	add("far", 10, 0)
	add("near", 1, 0)
	add("middle", 0, 3)
	gt.NoError(t, vault.Close()).Required()

	summary, err := cli.InspectVault(ctx, dir, 2, origin, 2)
	gt.NoError(t, err).Required()
	gt.Value(t, summary.Memories).Equal(4)
	gt.Value(t, summary.Near).Equal(string(origin))
	gt.Array(t, summary.Neighbours).Length(2)
	gt.Value(t, summary.Neighbours[0].Thought).Equal("near")
	gt.Value(t, summary.Neighbours[0].Distance).Equal(1.0)
	gt.Value(t, summary.Neighbours[1].Thought).Equal("middle")
	gt.Value(t, summary.Neighbours[1].Distance).Equal(3.0)

	_, err = cli.InspectVault(ctx, dir, 2, "no-such-memory", 2)
	gt.Value(t, err).NotNil()
}

func TestRun_Serve(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := cli.Run(ctx, []string{
		"titan", "serve",
		"--addr", "127.0.0.1:0",
		"--vault-dir", dir,
		"--role", "Sentinel",
		"--status-interval", "1h",
	}, "test")
	gt.NoError(t, err).Required()

	_, err = os.Stat(filepath.Join(dir, identity.KeyFileName("Sentinel")))
	gt.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, file.LogFileName))
	gt.NoError(t, err)
}

func TestRun_ServeWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "titan.toml")
	content := `
[node]
role = "Relay"
addr = "127.0.0.1:0"

[vault]
dir = "` + filepath.ToSlash(dir) + `"
backend = "memory"
`
	gt.NoError(t, os.WriteFile(configPath, []byte(content), 0o600)).Required()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := cli.Run(ctx, []string{"titan", "serve", "--config", configPath}, "test")
	gt.NoError(t, err).Required()

	_, err = os.Stat(filepath.Join(dir, identity.KeyFileName("Relay")))
	gt.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, file.LogFileName))
	gt.Bool(t, os.IsNotExist(err)).True()
}

func TestRun_ServeInvalidConfig(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"titan", "serve",
		"--vault-dir", t.TempDir(),
		"--vault-backend", "tape",
	}, "test")
	gt.Error(t, err).Is(config.ErrInvalidConfig)
}

func TestRun_Inspect(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"titan", "inspect", "--vault-dir", filepath.Join(t.TempDir(), "absent"),
	}, "test")
	gt.NoError(t, err)
}
