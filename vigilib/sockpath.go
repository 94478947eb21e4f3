package vigilib

import (
	"fmt"
	"os"
	"os/exec"
)

// EnvSockPath is the environment variable the vigil service uses to
// advertise its active socket path.
const EnvSockPath = "VIGIL_SOCK"

// DefaultHelperBin is the CLI asked for the socket path when neither
// explicit configuration nor the environment provides one.
const DefaultHelperBin = "vigil"

// resolveSockPath resolves the socket endpoint: explicit configuration
// first, then the environment, then the helper CLI. The helper prints
// exactly one encoded object holding a "sockname" key. This is the one
// step of the connection that may block on a subprocess, and it runs
// on the Connect goroutine only.
func (c *Connection) resolveSockPath() (string, error) {
	if c.SockPath != "" {
		return c.SockPath, nil
	}

	if path := os.Getenv(EnvSockPath); path != "" {
		return path, nil
	}

	helper := c.HelperBin
	if helper == "" {
		helper = DefaultHelperBin
	}

	out, err := exec.Command(helper, "--output-encoding=cbor", "get-sockname").Output()
	if err != nil {
		return "", fmt.Errorf("vigil: get-sockname helper failed: %w", err)
	}

	v, err := c.codec().Decode(out)
	if err != nil {
		return "", fmt.Errorf("vigil: failed to decode get-sockname output: %w", err)
	}

	path, ok := v[keySockname].(string)
	if !ok {
		return "", fmt.Errorf("vigil: get-sockname output carries no sockname")
	}
	return path, nil
}
