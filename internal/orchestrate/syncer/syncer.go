// Package syncer brings a task branch back in line with a moving upstream
// baseline, handling merge/rebase conflicts and push races.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"path"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
	"github.com/vietddude/roundkeeper/internal/orchestrate/retry"
)

// ErrRemoteMoved is returned by Publish when the published revision no
// longer matches the expected baseline (someone else pushed concurrently).
var ErrRemoteMoved = errors.New("remote revision moved since sync began")

// Strategy selects how upstream changes are integrated.
type Strategy string

const (
	StrategyRebase Strategy = "rebase"
	StrategyMerge  Strategy = "merge"
)

// IntegrationResult reports the outcome of an integration attempt.
type IntegrationResult struct {
	Revision  string   // resulting revision when clean
	Conflicts []string // conflicting paths; empty when clean
}

// Accessor is the resource-control interface the synchronizer drives.
// Implementations mutate the branch; the synchronizer owns the protocol.
type Accessor interface {
	// FetchRevision resolves the currently published revision of ref.
	FetchRevision(ctx context.Context, ref string) (string, error)

	// Contains reports whether ancestor is in revision's ancestry.
	Contains(ctx context.Context, revision, ancestor string) (bool, error)

	// Integrate applies target into ref using the given strategy.
	Integrate(ctx context.Context, ref, target string, strategy Strategy) (IntegrationResult, error)

	// ResolveTheirs accepts the incoming side for the given conflicting
	// paths and completes the integration, returning the new revision.
	ResolveTheirs(ctx context.Context, ref string, paths []string) (string, error)

	// AbortIntegration discards an in-progress integration.
	AbortIntegration(ctx context.Context, ref string) error

	// Publish pushes revision to ref, failing with ErrRemoteMoved if the
	// published revision no longer equals expected.
	Publish(ctx context.Context, ref, revision, expected string) error
}

// OutcomeKind enumerates synchronizer results.
type OutcomeKind string

const (
	OutcomeAlreadyCurrent OutcomeKind = "already-current"
	OutcomeSynced         OutcomeKind = "synced"
	OutcomeConflict       OutcomeKind = "conflict"
	OutcomeRace           OutcomeKind = "race-detected"
	OutcomeFailed         OutcomeKind = "failed"
)

// Outcome is the result of one Sync invocation.
type Outcome struct {
	Kind          OutcomeKind
	Revision      string   // new revision when synced
	StartRevision string   // branch revision observed at start
	Conflicts     []string // conflicting paths when Kind == conflict
	Expected      string   // race: revision observed at start
	Actual        string   // race: revision observed at publish time
	Err           *classify.ClassifiedError
}

// Config holds synchronizer policy.
type Config struct {
	// AutoResolvePaths lists machine-generated files whose conflicts are
	// resolved by accepting the incoming side. Matched against the full
	// conflict path and its base name.
	AutoResolvePaths []string `yaml:"auto_resolve_paths"`
}

// DefaultConfig auto-resolves common dependency lock files.
func DefaultConfig() Config {
	return Config{
		AutoResolvePaths: []string{
			"go.sum",
			"package-lock.json",
			"yarn.lock",
			"pnpm-lock.yaml",
			"requirements.lock",
			"poetry.lock",
			"Cargo.lock",
		},
	}
}

// Synchronizer integrates a moving upstream target into a task branch
// using optimistic concurrency: it never force-overwrites work that
// landed on the branch after the sync began.
type Synchronizer struct {
	cfg      Config
	accessor Accessor
	exec     *retry.Executor
	log      *slog.Logger
}

// New creates a Synchronizer.
func New(cfg Config, accessor Accessor, exec *retry.Executor) *Synchronizer {
	return &Synchronizer{
		cfg:      cfg,
		accessor: accessor,
		exec:     exec,
		log:      slog.Default(),
	}
}

// Sync integrates target into ref and publishes the result.
// Conflict and race outcomes are non-terminal signals: the caller decides
// whether to re-invoke with a refreshed baseline.
func (s *Synchronizer) Sync(ctx context.Context, ref, target string) Outcome {
	targetRev, err := s.fetch(ctx, target)
	if err != nil {
		return failed(err)
	}

	startRev, err := s.fetch(ctx, ref)
	if err != nil {
		return failed(err)
	}

	current, err := s.accessor.Contains(ctx, startRev, targetRev)
	if err != nil {
		return failed(err)
	}
	if current {
		return Outcome{Kind: OutcomeAlreadyCurrent, Revision: startRev, StartRevision: startRev}
	}

	candidate, conflict := s.integrate(ctx, ref, targetRev)
	if conflict != nil {
		return *conflict
	}

	// Re-read before publishing: someone else may have moved the branch
	// while we were integrating. Never force-overwrite their work.
	actual, err := s.fetch(ctx, ref)
	if err != nil {
		return failed(err)
	}
	if actual != startRev {
		s.log.Warn("publish race detected", "ref", ref, "expected", startRev, "actual", actual)
		return Outcome{Kind: OutcomeRace, StartRevision: startRev, Expected: startRev, Actual: actual}
	}

	pubErr := s.exec.Do(ctx, retry.ClassPublish, "publish "+ref, func(ctx context.Context) error {
		err := s.accessor.Publish(ctx, ref, candidate, startRev)
		if errors.Is(err, ErrRemoteMoved) {
			// Not a generic transient failure: the payload is stale.
			// Surface immediately so the caller re-runs from a fresh fetch.
			return &classify.ClassifiedError{
				Category: domain.CategoryResource,
				Recovery: "re-sync from the current branch revision",
				Err:      err,
			}
		}
		return err
	})
	if pubErr != nil {
		if errors.Is(pubErr, ErrRemoteMoved) {
			moved, fetchErr := s.fetch(ctx, ref)
			if fetchErr != nil {
				moved = "unknown"
			}
			return Outcome{Kind: OutcomeRace, StartRevision: startRev, Expected: startRev, Actual: moved}
		}
		return failed(pubErr)
	}

	s.log.Info("branch synchronized", "ref", ref, "target", target, "revision", candidate)
	return Outcome{Kind: OutcomeSynced, Revision: candidate, StartRevision: startRev}
}

// integrate prefers rebase for linear history and falls back to merge.
// Returns a non-nil Outcome pointer on conflict or failure.
func (s *Synchronizer) integrate(ctx context.Context, ref, targetRev string) (string, *Outcome) {
	res, err := s.accessor.Integrate(ctx, ref, targetRev, StrategyRebase)
	if err != nil {
		_ = s.accessor.AbortIntegration(ctx, ref)
		o := failed(err)
		return "", &o
	}
	if len(res.Conflicts) == 0 {
		return res.Revision, nil
	}

	// Rebase conflicted. Abort and retry as a merge, which tends to
	// conflict on fewer paths for long-lived branches.
	if err := s.accessor.AbortIntegration(ctx, ref); err != nil {
		o := failed(err)
		return "", &o
	}
	res, err = s.accessor.Integrate(ctx, ref, targetRev, StrategyMerge)
	if err != nil {
		_ = s.accessor.AbortIntegration(ctx, ref)
		o := failed(err)
		return "", &o
	}
	if len(res.Conflicts) == 0 {
		return res.Revision, nil
	}

	if s.autoResolvable(res.Conflicts) {
		rev, err := s.accessor.ResolveTheirs(ctx, ref, res.Conflicts)
		if err != nil {
			_ = s.accessor.AbortIntegration(ctx, ref)
			o := failed(err)
			return "", &o
		}
		s.log.Info("auto-resolved lock-file conflicts", "ref", ref, "paths", res.Conflicts)
		return rev, nil
	}

	if err := s.accessor.AbortIntegration(ctx, ref); err != nil {
		s.log.Warn("failed to abort conflicted integration", "ref", ref, "error", err)
	}
	return "", &Outcome{Kind: OutcomeConflict, Conflicts: res.Conflicts}
}

// autoResolvable reports whether every conflict is confined to the
// configured machine-generated file allow-list.
func (s *Synchronizer) autoResolvable(conflicts []string) bool {
	if len(conflicts) == 0 {
		return false
	}
	for _, c := range conflicts {
		if !s.pathAllowed(c) {
			return false
		}
	}
	return true
}

func (s *Synchronizer) pathAllowed(p string) bool {
	base := path.Base(p)
	for _, allowed := range s.cfg.AutoResolvePaths {
		if p == allowed || base == allowed {
			return true
		}
	}
	return false
}

func (s *Synchronizer) fetch(ctx context.Context, ref string) (string, error) {
	var rev string
	err := s.exec.Do(ctx, retry.ClassRead, "fetch "+ref, func(ctx context.Context) error {
		var err error
		rev, err = s.accessor.FetchRevision(ctx, ref)
		return err
	})
	return rev, err
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: classify.Classify(err)}
}
