package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/service/identity"
	"github.com/secmon-lab/titan/pkg/utils/logging"
	"github.com/secmon-lab/titan/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

const (
	DefaultEmitURL     = "ws://localhost:8888/ws"
	DefaultEmitTimeout = 10 * time.Second

	identityPath = "/identity"
)

func cmdEmit() *cli.Command {
	var (
		target  string
		file    string
		verify  bool
		timeout time.Duration
	)

	return &cli.Command{
		Name:  "emit",
		Usage: "Send one synthetic signal to a node and print the reply",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Aliases:     []string{"u"},
				Usage:       "WebSocket URL of the node",
				Value:       DefaultEmitURL,
				Sources:     cli.EnvVars("TITAN_EMIT_URL"),
				Destination: &target,
			},
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "JSON signal packet to send. A built-in sample is used when omitted",
				Destination: &file,
			},
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "Verify the reply signature against the node's published key",
				Destination: &verify,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Time to wait for the reply",
				Value:       DefaultEmitTimeout,
				Destination: &timeout,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			sig, err := loadSignal(file)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			resp, err := emit(ctx, target, sig)
			if err != nil {
				return err
			}

			if verify {
				if err := verifyReply(ctx, target, resp); err != nil {
					return err
				}
				logging.From(ctx).Info("Reply signature verified", "origin", resp.Payload.Origin)
			}

			return printJSON(os.Stdout, resp)
		},
	}
}

// sampleSignal is sent when no packet file is given
func sampleSignal(now time.Time) *model.Signal {
	return &model.Signal{
		Glyph: "Ω7",
		Payload: model.Payload{
			Thought:     "Initiating resonance handshake",
			Origin:      "Emitter",
			Pulse:       35.0,
			SigStrength: 0.8,
			Timestamp:   now.UTC().Format(time.RFC3339),
		},
		Confidence:   "alpha-wave",
		HopSignature: "quantum-lock:v1",
		EchoPath:     []string{"EM-" + uuid.NewString()[:8]},
		Metadata:     map[string]any{},
	}
}

func loadSignal(path string) (*model.Signal, error) {
	if path == "" {
		return sampleSignal(time.Now()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read signal packet", goerr.V("path", path))
	}
	sig, err := model.ParseSignal(data)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid signal packet", goerr.V("path", path))
	}
	return sig, nil
}

// emit sends sig over a fresh connection and waits for one reply frame
func emit(ctx context.Context, target string, sig *model.Signal) (*model.ResponseSignal, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to node", goerr.V("url", target))
	}
	defer safe.Close(ctx, conn)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode signal")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, goerr.Wrap(err, "failed to send signal", goerr.V("url", target))
	}
	logging.From(ctx).Info("Signal emitted", "url", target, "glyph", sig.Glyph)

	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read reply", goerr.V("url", target))
	}

	var resp model.ResponseSignal
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to decode reply")
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))

	return &resp, nil
}

// identityURL maps the node websocket URL onto its key set endpoint
func identityURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", goerr.Wrap(err, "invalid node URL", goerr.V("url", target))
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", goerr.New("unsupported node URL scheme", goerr.V("url", target))
	}
	u.Path = identityPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// verifyReply fetches the node's JWKS and checks the reply signature with the
// key whose id matches the node id in the reply origin
func verifyReply(ctx context.Context, target string, resp *model.ResponseSignal) error {
	keysURL, err := identityURL(target)
	if err != nil {
		return err
	}

	set, err := jwk.Fetch(ctx, keysURL)
	if err != nil {
		return goerr.Wrap(err, "failed to fetch node key set", goerr.V("url", keysURL))
	}

	nodeID, ok := strings.CutPrefix(resp.Payload.Origin, "Titan.")
	if !ok || nodeID == "" {
		return goerr.Wrap(identity.ErrInvalidSignature, "reply origin does not name a node",
			goerr.V("origin", resp.Payload.Origin))
	}

	pub, err := identity.PublicKeyFromJWKS(set, nodeID)
	if err != nil {
		return err
	}

	data, err := resp.CanonicalBytes()
	if err != nil {
		return err
	}
	return identity.VerifyHex(pub, data, resp.Signature)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}
