package safe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/secmon-lab/titan/pkg/utils/logging"
)

// Close closes closer and logs a failure on the ctx logger. A nil closer is a
// no-op, and a connection that is already closed is not reported, since peers
// and the keepalive loop both tear sockets down.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	err := closer.Close()
	if err == nil || errors.Is(err, net.ErrClosed) {
		return
	}
	logging.From(ctx).Error("Failed to close",
		slog.String("resource", fmt.Sprintf("%T", closer)),
		slog.Any("error", err))
}
