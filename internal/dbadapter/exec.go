package dbadapter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vaultkeep/backupd/internal/apierr"
)

// runCommand executes name with args, waiting for completion, and wraps any
// non-zero exit with a trimmed stderr snippet per §7 (AdapterFailure).
func runCommand(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		snippet := strings.TrimSpace(stderr.String())
		if len(snippet) > 2000 {
			snippet = snippet[:2000]
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", apierr.ErrAdapterFailure, name, err, snippet)
	}
	return []byte(stdout.String()), nil
}
