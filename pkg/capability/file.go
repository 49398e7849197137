package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// FileProvider deploys a whole file. Params:
//
//	path     (required) destination path on the host
//	content  (required) the full desired file content
//	mode     optional octal permission bits (e.g. 0644)
//	owner    optional user or user:group the file must belong to
//
// The probe captures a hash of the remote file, so the predicate is a
// content comparison and re-runs touch nothing once the deployed file
// matches. Apply transfers the content over the runner's upload channel when
// the transport has one, and writes it through the shell otherwise.
type FileProvider struct{}

func (p *FileProvider) Type() playbook.Capability { return playbook.CapabilityFile }

// Probe captures the remote file's SHA-256 and, when a mode is declared,
// its current permission bits.
func (p *FileProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	dest, err := requireParam(params, "path")
	if err != nil {
		return nil, err
	}

	cmd := fmt.Sprintf("sha256sum %s 2>/dev/null | cut -d' ' -f1", shQuote(dest))
	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return nil, fmt.Errorf("file probe failed: %w", err)
	}

	values := facts.Values{
		factKey("file", dest, "sha256"): strings.TrimSpace(res.Stdout),
	}

	if params["mode"] != "" {
		res, err := rn.Execute(ctx, host, fmt.Sprintf("stat -c %%a %s 2>/dev/null", shQuote(dest)), elevated)
		if err != nil {
			return nil, fmt.Errorf("file mode probe failed: %w", err)
		}
		values[factKey("file", dest, "mode")] = strings.TrimSpace(res.Stdout)
	}
	return values, nil
}

// Satisfied holds when the remote hash matches the declared content, and the
// permission bits match when a mode is declared.
func (p *FileProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	dest, err := requireParam(params, "path")
	if err != nil {
		return false, err
	}
	content, err := requireParam(params, "content")
	if err != nil {
		return false, err
	}

	if snapshot[factKey("file", dest, "sha256")] != contentHash(content) {
		return false, nil
	}
	if mode := params["mode"]; mode != "" {
		if normalizeMode(snapshot[factKey("file", dest, "mode")]) != normalizeMode(mode) {
			return false, nil
		}
	}
	return true, nil
}

// Apply deploys the content, then asserts mode and owner. Uploads for
// elevated actions are staged under /tmp and moved into place, since the
// transfer channel itself carries no privilege elevation.
func (p *FileProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	dest, err := requireParam(params, "path")
	if err != nil {
		return "", err
	}
	content, err := requireParam(params, "content")
	if err != nil {
		return "", err
	}

	if up, ok := rn.(Uploader); ok {
		target := dest
		if elevated {
			target = stagingPath(dest)
		}
		if err := up.Upload(ctx, host, []byte(content), target); err != nil {
			return "", fmt.Errorf("file upload failed: %w", err)
		}
		if target != dest {
			move := fmt.Sprintf("mkdir -p %s && mv %s %s", shQuote(path.Dir(dest)), shQuote(target), shQuote(dest))
			if err := p.runShell(ctx, rn, host, move, elevated); err != nil {
				return "", err
			}
		}
	} else {
		write := fmt.Sprintf("mkdir -p %s && printf '%%s' %s > %s", shQuote(path.Dir(dest)), shQuote(content), shQuote(dest))
		if err := p.runShell(ctx, rn, host, fmt.Sprintf("sh -c %s", shQuote(write)), elevated); err != nil {
			return "", err
		}
	}

	if mode := params["mode"]; mode != "" {
		if err := p.runShell(ctx, rn, host, fmt.Sprintf("chmod %s %s", mode, shQuote(dest)), elevated); err != nil {
			return "", err
		}
	}
	if owner := params["owner"]; owner != "" {
		if err := p.runShell(ctx, rn, host, fmt.Sprintf("chown %s %s", shQuote(owner), shQuote(dest)), elevated); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("deployed %d bytes to %s", len(content), dest), nil
}

func (p *FileProvider) runShell(ctx context.Context, rn Runner, host *inventory.Host, cmd string, elevated bool) error {
	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return fmt.Errorf("file apply failed: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("file apply exited with code %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// stagingPath derives a stable temporary path for one destination, so a
// retried apply overwrites its own leftover staging file.
func stagingPath(dest string) string {
	sum := sha256.Sum256([]byte(dest))
	return path.Join("/tmp", fmt.Sprintf(".converge-%s", hex.EncodeToString(sum[:8])))
}

// normalizeMode strips leading zeros so a declared 0644 matches stat's 644.
func normalizeMode(mode string) string {
	return strings.TrimLeft(mode, "0")
}
