//go:build windows

package discord

import (
	"context"
	"net"
)

// dialIPC is a placeholder: named pipes need a transport the module does not carry yet
func dialIPC(ctx context.Context) (net.Conn, error) {
	return nil, ErrUnsupportedPlatform
}
