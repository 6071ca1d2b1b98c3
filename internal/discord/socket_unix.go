//go:build !windows

package discord

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

const maxPipeIndex = 10

// socketSubdirs are tried under every base directory; the empty entry is
// the native client, the others sandboxed installs
var socketSubdirs = []string{
	"",
	"app/com.discordapp.Discord",
	"app/com.discordapp.DiscordCanary",
	"snap.discord",
	"snap.discord-canary",
}

// candidateSockets lists every IPC socket path worth trying, in order
func candidateSockets(getenv func(string) string) []string {
	var bases []string
	seen := make(map[string]bool)
	for _, key := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := getenv(key); dir != "" && !seen[dir] {
			seen[dir] = true
			bases = append(bases, dir)
		}
	}
	if !seen["/tmp"] {
		bases = append(bases, "/tmp")
	}

	var paths []string
	for _, base := range bases {
		for _, sub := range socketSubdirs {
			for i := 0; i < maxPipeIndex; i++ {
				paths = append(paths, filepath.Join(base, sub, fmt.Sprintf("discord-ipc-%d", i)))
			}
		}
	}
	return paths
}

// dialIPC connects to the first socket that accepts a connection
func dialIPC(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	var errs []error

	for _, path := range candidateSockets(os.Getenv) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	if len(errs) == 0 {
		return nil, errors.New("no discord ipc socket found (is the client running?)")
	}
	return nil, fmt.Errorf("no discord ipc socket accepted the connection: %w", errors.Join(errs...))
}
