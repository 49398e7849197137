package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// FileLineProvider asserts that a configuration file contains an exact line.
// Params:
//
//	path   (required) file path on the host
//	line   (required) the exact line the file must contain
//	match  optional extended-regex anchor; when a line matching it exists,
//	       that line is replaced instead of appending
//
// The probe captures the currently matched line so the predicate is a typed
// comparison (current line == desired line), not ad hoc output matching.
type FileLineProvider struct{}

func (p *FileLineProvider) Type() playbook.Capability { return playbook.CapabilityFileLine }

// Probe reads the line currently anchored at match (or the desired line
// itself when no match expression is given).
func (p *FileLineProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	path, err := requireParam(params, "path")
	if err != nil {
		return nil, err
	}
	line, err := requireParam(params, "line")
	if err != nil {
		return nil, err
	}

	anchor := params["match"]
	var cmd string
	if anchor != "" {
		cmd = fmt.Sprintf("grep -E -m1 %s %s 2>/dev/null", shQuote(anchor), shQuote(path))
	} else {
		cmd = fmt.Sprintf("grep -Fx -m1 %s %s 2>/dev/null", shQuote(line), shQuote(path))
	}

	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return nil, fmt.Errorf("file line probe failed: %w", err)
	}

	return facts.Values{
		lineFactKey(path, params): strings.TrimRight(res.Stdout, "\n"),
	}, nil
}

// Satisfied holds when the probed line equals the desired line.
func (p *FileLineProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	path, err := requireParam(params, "path")
	if err != nil {
		return false, err
	}
	line, err := requireParam(params, "line")
	if err != nil {
		return false, err
	}

	current, ok := snapshot[lineFactKey(path, params)]
	if !ok {
		return false, nil
	}
	return current == line, nil
}

// Apply replaces the matched line in place, or appends when nothing matches.
func (p *FileLineProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	path, err := requireParam(params, "path")
	if err != nil {
		return "", err
	}
	line, err := requireParam(params, "line")
	if err != nil {
		return "", err
	}

	anchor := params["match"]
	var cmd string
	if anchor != "" {
		// Replace in place when the anchor matches, append otherwise.
		cmd = fmt.Sprintf(
			"if grep -qE %s %s 2>/dev/null; then sed -i -E 's|.*%s.*|%s|' %s; else printf '%%s\\n' %s >> %s; fi",
			shQuote(anchor), shQuote(path),
			sedEscape(anchor), sedEscape(line), shQuote(path),
			shQuote(line), shQuote(path),
		)
	} else {
		cmd = fmt.Sprintf("printf '%%s\\n' %s >> %s", shQuote(line), shQuote(path))
	}

	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return "", fmt.Errorf("file line apply failed: %w", err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("file edit exited with code %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func lineFactKey(path string, params playbook.Params) string {
	anchor := params["match"]
	if anchor == "" {
		anchor = params["line"]
	}
	return factKey("file", path, "line", anchor)
}

// sedEscape escapes the characters sed treats specially inside s|..|..|.
func sedEscape(s string) string {
	r := strings.NewReplacer(`|`, `\|`, `&`, `\&`, `\`, `\\`)
	return r.Replace(s)
}
