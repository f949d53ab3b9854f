package cli

import (
	"context"
	"net/http"

	"github.com/secmon-lab/titan/pkg/cli/config"
)

var (
	Emit         = emit
	VerifyReply  = verifyReply
	IdentityURL  = identityURL
	LoadSignal   = loadSignal
	InspectVault = inspectVault
)

// NewNodeHandlerForTest wires a node and returns its HTTP handler and a close function
func NewNodeHandlerForTest(ctx context.Context, nodeCfg *config.Node, vaultCfg *config.Vault) (http.Handler, func(), error) {
	n, err := newNode(ctx, nodeCfg, vaultCfg)
	if err != nil {
		return nil, nil, err
	}
	return n.handler, func() { n.Close(ctx) }, nil
}
