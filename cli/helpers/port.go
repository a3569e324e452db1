package helpers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EnsurePortAvailable fails when host:port cannot be bound right now.
func EnsurePortAvailable(ctx context.Context, host string, port int) error {
	addr := formatAddress(host, port)
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is not available on %s: %w", port, host, err)
	}
	if err := listener.Close(); err != nil {
		return fmt.Errorf("failed to release listener on %s: %w", addr, err)
	}
	return nil
}

func formatAddress(host string, port int) string {
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}
