package cli

import (
	"context"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/cli/config"
	httpctrl "github.com/secmon-lab/titan/pkg/controller/http"
	"github.com/secmon-lab/titan/pkg/controller/ws"
	"github.com/secmon-lab/titan/pkg/domain/interfaces"
	"github.com/secmon-lab/titan/pkg/service/encoder"
	"github.com/secmon-lab/titan/pkg/service/identity"
	"github.com/secmon-lab/titan/pkg/service/metrics"
	"github.com/secmon-lab/titan/pkg/service/resonance"
	"github.com/secmon-lab/titan/pkg/service/synth"
	"github.com/secmon-lab/titan/pkg/service/transform"
	"github.com/secmon-lab/titan/pkg/usecase"
	"github.com/secmon-lab/titan/pkg/utils/logging"
	"github.com/secmon-lab/titan/pkg/utils/safe"
)

// node is a fully wired titan node
type node struct {
	identity *identity.Identity
	vault    interfaces.VaultRepository
	usecases *usecase.UseCases
	ws       *ws.Handler
	handler  http.Handler
}

func newNode(ctx context.Context, nodeCfg *config.Node, vaultCfg *config.Vault) (*node, error) {
	dim := nodeCfg.Dimension()

	id, err := identity.LoadOrGenerate(ctx, vaultCfg.Dir(), nodeCfg.Role())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load node identity")
	}

	vault, err := vaultCfg.Configure(ctx, dim)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open vault")
	}
	// vault is closed by node.Close from here on
	n := &node{identity: id, vault: vault}

	network, err := transform.New(transform.Config{
		InputDim:  dim,
		HiddenDim: nodeCfg.HiddenDim(),
		OutputDim: dim,
		Seed:      nodeCfg.TransformSeed(),
	})
	if err != nil {
		n.Close(ctx)
		return nil, goerr.Wrap(err, "failed to build transform network")
	}

	evoCfg := resonance.DefaultConfig(dim)
	evoCfg.InitialLevel = nodeCfg.Consciousness()
	evoCfg.Interval = nodeCfg.EvolutionInterval()
	evolver, err := resonance.New(evoCfg)
	if err != nil {
		n.Close(ctx)
		return nil, goerr.Wrap(err, "failed to build resonance evolver")
	}

	synthesizer, err := synth.New(synth.Config{
		Origin:      id.Origin(),
		EchoID:      id.EchoID(),
		MaxEchoPath: nodeCfg.MaxEchoPath(),
	}, id)
	if err != nil {
		n.Close(ctx)
		return nil, goerr.Wrap(err, "failed to build synthesizer")
	}

	collector := metrics.New(metrics.DefaultNamespace)
	peers := ws.NewPeerSet()

	uc, err := usecase.New(usecase.Pipeline{
		Encoder:     encoder.New(dim),
		Transform:   network,
		Evolver:     evolver,
		Vault:       vault,
		Synthesizer: synthesizer,
	},
		usecase.WithNode(id.NodeID(), id.Role()),
		usecase.WithPeers(peers),
		usecase.WithMetrics(collector),
	)
	if err != nil {
		n.Close(ctx)
		return nil, goerr.Wrap(err, "failed to build use cases")
	}
	n.usecases = uc

	n.ws = ws.New(uc.Signal, peers, ws.WithMetrics(collector))
	n.handler = httpctrl.New(n.ws,
		httpctrl.WithStatus(uc.Signal),
		httpctrl.WithKeys(id),
		httpctrl.WithMetrics(collector),
	)

	logging.From(ctx).Info("Titan node ready",
		"node_id", id.NodeID(),
		"role", id.Role(),
		"origin", id.Origin(),
		"memories", vault.Count(),
		"consciousness", evolver.Level(),
	)

	return n, nil
}

// Close waits for open peer connections and closes the vault
func (n *node) Close(ctx context.Context) {
	if n.ws != nil {
		n.ws.Wait()
	}
	safe.Close(ctx, n.vault)
}
