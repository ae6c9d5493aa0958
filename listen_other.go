//go:build !unix

package fcgid

import (
	"context"
	"net"
)

func listen(ctx context.Context, network, addr string) (net.Listener, error) {
	var cfg net.ListenConfig
	return cfg.Listen(ctx, network, addr)
}
