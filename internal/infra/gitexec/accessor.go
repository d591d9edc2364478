// Package gitexec drives branch synchronization through the git CLI.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vietddude/roundkeeper/internal/orchestrate/syncer"
)

// Config holds git working copy configuration.
type Config struct {
	// RepoPath is the local clone the synchronizer operates in.
	RepoPath string `yaml:"repo_path"`

	// Remote names the remote carrying the task branches.
	Remote string `yaml:"remote"`

	// MaxConcurrent caps parallel git processes.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DefaultConfig uses origin and four parallel git processes.
func DefaultConfig() Config {
	return Config{Remote: "origin", MaxConcurrent: 4}
}

// Accessor implements syncer.Accessor over a local working copy.
type Accessor struct {
	cfg  Config
	pool *Pool
}

// NewAccessor creates an Accessor.
func NewAccessor(cfg Config, pool *Pool) *Accessor {
	if cfg.Remote == "" {
		cfg.Remote = DefaultConfig().Remote
	}
	return &Accessor{cfg: cfg, pool: pool}
}

// FetchRevision fetches ref from the remote and resolves its revision.
func (a *Accessor) FetchRevision(ctx context.Context, ref string) (string, error) {
	var rev string
	err := a.pool.Run(ctx, func() error {
		refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", ref, a.cfg.Remote, ref)
		if _, err := a.git(ctx, "fetch", a.cfg.Remote, refspec); err != nil {
			return fmt.Errorf("fetch %s: %w", ref, err)
		}
		out, err := a.git(ctx, "rev-parse", a.tracking(ref))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", ref, err)
		}
		rev = strings.TrimSpace(out)
		return nil
	})
	return rev, err
}

// Contains reports whether ancestor is in revision's ancestry.
func (a *Accessor) Contains(ctx context.Context, revision, ancestor string) (bool, error) {
	var contains bool
	err := a.pool.Run(ctx, func() error {
		_, err := a.git(ctx, "merge-base", "--is-ancestor", ancestor, revision)
		if err == nil {
			contains = true
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			contains = false
			return nil
		}
		return fmt.Errorf("merge-base %s %s: %w", ancestor, revision, err)
	})
	return contains, err
}

// Integrate applies target into ref using the given strategy. Conflicts
// leave the integration in progress for ResolveTheirs or AbortIntegration.
func (a *Accessor) Integrate(ctx context.Context, ref, target string, strategy syncer.Strategy) (syncer.IntegrationResult, error) {
	var res syncer.IntegrationResult
	err := a.pool.Run(ctx, func() error {
		if _, err := a.git(ctx, "checkout", "-B", ref, a.tracking(ref)); err != nil {
			return fmt.Errorf("checkout %s: %w", ref, err)
		}

		var integrateErr error
		switch strategy {
		case syncer.StrategyRebase:
			_, integrateErr = a.git(ctx, "rebase", target)
		case syncer.StrategyMerge:
			_, integrateErr = a.git(ctx, "merge", "--no-edit", target)
		default:
			return fmt.Errorf("unknown integration strategy %q", strategy)
		}

		if integrateErr != nil {
			conflicts, listErr := a.conflictPaths(ctx)
			if listErr != nil {
				return fmt.Errorf("integrate %s via %s: %w", ref, strategy, integrateErr)
			}
			if len(conflicts) == 0 {
				return fmt.Errorf("integrate %s via %s: %w", ref, strategy, integrateErr)
			}
			res = syncer.IntegrationResult{Conflicts: conflicts}
			return nil
		}

		rev, err := a.head(ctx)
		if err != nil {
			return err
		}
		res = syncer.IntegrationResult{Revision: rev}
		return nil
	})
	return res, err
}

// ResolveTheirs accepts the incoming side for the conflicting paths and
// finishes the merge.
func (a *Accessor) ResolveTheirs(ctx context.Context, ref string, paths []string) (string, error) {
	var rev string
	err := a.pool.Run(ctx, func() error {
		args := append([]string{"checkout", "--theirs", "--"}, paths...)
		if _, err := a.git(ctx, args...); err != nil {
			return fmt.Errorf("take theirs on %s: %w", ref, err)
		}
		addArgs := append([]string{"add", "--"}, paths...)
		if _, err := a.git(ctx, addArgs...); err != nil {
			return fmt.Errorf("stage resolved paths on %s: %w", ref, err)
		}
		if _, err := a.git(ctx, "commit", "--no-edit"); err != nil {
			return fmt.Errorf("finish merge on %s: %w", ref, err)
		}
		var headErr error
		rev, headErr = a.head(ctx)
		return headErr
	})
	return rev, err
}

// AbortIntegration discards an in-progress rebase or merge.
func (a *Accessor) AbortIntegration(ctx context.Context, ref string) error {
	return a.pool.Run(ctx, func() error {
		// Only one of these can be in progress; the other fails harmlessly.
		if _, err := a.git(ctx, "rebase", "--abort"); err == nil {
			return nil
		}
		_, _ = a.git(ctx, "merge", "--abort")
		return nil
	})
}

// Publish pushes revision to ref, guarded by a force-with-lease on the
// expected remote revision.
func (a *Accessor) Publish(ctx context.Context, ref, revision, expected string) error {
	return a.pool.Run(ctx, func() error {
		lease := fmt.Sprintf("--force-with-lease=refs/heads/%s:%s", ref, expected)
		refspec := fmt.Sprintf("%s:refs/heads/%s", revision, ref)
		out, err := a.git(ctx, "push", lease, a.cfg.Remote, refspec)
		if err != nil {
			if staleLease(err.Error()) || staleLease(out) {
				return fmt.Errorf("push %s: %w", ref, syncer.ErrRemoteMoved)
			}
			return fmt.Errorf("push %s: %w", ref, err)
		}
		return nil
	})
}

func (a *Accessor) conflictPaths(ctx context.Context) ([]string, error) {
	out, err := a.git(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func (a *Accessor) head(ctx context.Context) (string, error) {
	out, err := a.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (a *Accessor) tracking(ref string) string {
	return fmt.Sprintf("refs/remotes/%s/%s", a.cfg.Remote, ref)
}

func (a *Accessor) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if a.cfg.RepoPath != "" {
		cmd.Dir = a.cfg.RepoPath
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// staleLease matches git's force-with-lease rejection output.
func staleLease(s string) bool {
	return strings.Contains(s, "stale info") ||
		strings.Contains(s, "[rejected]") ||
		strings.Contains(s, "fetch first")
}
