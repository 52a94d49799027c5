package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sophia/internal/logging"
)

// Op is the kind of filesystem change an instruction requests.
type Op string

const (
	OpWrite  Op = "write"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

// Instruction is a single file change produced by an accepted proposal.
type Instruction struct {
	Op      Op     `json:"op"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

// Result is the outcome of applying one instruction.
type Result struct {
	Instruction Instruction `json:"instruction"`
	Applied     bool        `json:"applied"`
	Preview     string      `json:"preview,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	Err         string      `json:"error,omitempty"`
}

// Runner applies instructions to files under a workspace root. Paths that
// resolve outside the root are rejected.
type Runner struct {
	root     string
	dryRun   bool
	renderer *DiffRenderer
	logger   logging.Logger
}

// Options configures a Runner.
type Options struct {
	DryRun       bool
	ColorEnabled bool
	Logger       logging.Logger
}

func New(root string, opts Options) (*Runner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Runner{
		root:     abs,
		dryRun:   opts.DryRun,
		renderer: NewDiffRenderer(opts.ColorEnabled),
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

// Root returns the absolute workspace root.
func (r *Runner) Root() string { return r.root }

// Apply runs each instruction in order and returns a result per
// instruction. A failing instruction stops the run; later instructions
// are not attempted.
func (r *Runner) Apply(ctx context.Context, instructions []Instruction) ([]Result, error) {
	results := make([]Result, 0, len(instructions))
	for i, inst := range instructions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.applyOne(inst)
		results = append(results, res)
		if res.Err != "" {
			return results, fmt.Errorf("instruction %d (%s %s): %s", i+1, inst.Op, inst.Path, res.Err)
		}
	}
	return results, nil
}

func (r *Runner) applyOne(inst Instruction) Result {
	res := Result{Instruction: inst}

	target, err := r.resolve(inst.Path)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	switch inst.Op {
	case OpWrite:
		old := ""
		if data, err := os.ReadFile(target); err == nil {
			old = string(data)
		}
		diff := r.renderer.Render(old, inst.Content, inst.Path)
		res.Preview = diff.UnifiedDiff
		res.Summary = diff.FormatSummary()
		if r.dryRun {
			return res
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			res.Err = err.Error()
			return res
		}
		if err := os.WriteFile(target, []byte(inst.Content), 0o644); err != nil {
			res.Err = err.Error()
			return res
		}
		res.Applied = true
		r.logger.Info("wrote %s (%s)", inst.Path, res.Summary)

	case OpPatch:
		data, err := os.ReadFile(target)
		if err != nil {
			res.Err = fmt.Sprintf("read target for patch: %v", err)
			return res
		}
		patched, err := ApplyPatch(string(data), inst.Diff)
		if err != nil {
			res.Err = err.Error()
			return res
		}
		diff := r.renderer.Render(string(data), patched, inst.Path)
		res.Preview = diff.UnifiedDiff
		res.Summary = diff.FormatSummary()
		if r.dryRun {
			return res
		}
		if err := os.WriteFile(target, []byte(patched), 0o644); err != nil {
			res.Err = err.Error()
			return res
		}
		res.Applied = true
		r.logger.Info("patched %s (%s)", inst.Path, res.Summary)

	case OpDelete:
		if _, err := os.Stat(target); err != nil {
			res.Err = fmt.Sprintf("delete target: %v", err)
			return res
		}
		res.Summary = "file removed"
		if r.dryRun {
			return res
		}
		if err := os.Remove(target); err != nil {
			res.Err = err.Error()
			return res
		}
		res.Applied = true
		r.logger.Info("deleted %s", inst.Path)

	default:
		res.Err = fmt.Sprintf("unknown op %q", inst.Op)
	}
	return res
}

// resolve joins a relative instruction path onto the workspace root and
// rejects anything that escapes it.
func (r *Runner) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute path %q not allowed", path)
	}
	target := filepath.Clean(filepath.Join(r.root, path))
	if target != r.root && !strings.HasPrefix(target, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace root", path)
	}
	if target == r.root {
		return "", fmt.Errorf("path %q resolves to workspace root", path)
	}
	return target, nil
}
