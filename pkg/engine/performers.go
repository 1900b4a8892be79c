package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/pkg/models"
)

// Directory answers the identity lookups the resolver needs synchronously
// within the workflow lock.
type Directory interface {
	// AccountOwner returns the owning user of an account. It is the fallback
	// target for workflow-starter performers on external runs.
	AccountOwner(ctx context.Context, accountID string) (string, error)

	// IsGroupMember reports whether the user belongs to the group. Used when
	// a user completes a task assigned to a group they have no direct
	// performer row for.
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
}

// ResolveOptions controls a resolution pass.
type ResolveOptions struct {
	// Only restricts the pass to a single raw performer (incremental update
	// after a field change). Orphan cleanup is skipped in that mode since the
	// rest of the declarations were not consulted.
	Only *models.RawPerformer

	// RestoreDeleted lets field-driven declarations resurrect a performer the
	// user manually removed. Explicit manual removal of a direct user or
	// group performer stays permanent until the raw performer itself changes.
	RestoreDeleted bool
}

// PerformerDiff is the minimal mutation set a resolution pass produced.
type PerformerDiff struct {
	AddedUserIDs    []string
	AddedGroupIDs   []string
	RemovedUserIDs  []string
	RemovedGroupIDs []string
}

// Empty reports whether the pass changed nothing.
func (d PerformerDiff) Empty() bool {
	return len(d.AddedUserIDs) == 0 && len(d.AddedGroupIDs) == 0 &&
		len(d.RemovedUserIDs) == 0 && len(d.RemovedGroupIDs) == 0
}

// Resolver turns a task's raw performer declarations into a deduplicated,
// minimal set of task performer mutations on the aggregate. All passes run
// under the workflow lock, and the persistence adapters back the (task,
// identity) pair with a unique key, so concurrent resolution of the same
// task converges on one row per identity.
type Resolver struct {
	directory Directory
	clock     func() time.Time
	newID     func() string
}

func NewResolver(directory Directory) *Resolver {
	return &Resolver{
		directory: directory,
		clock:     time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

type identity struct {
	kind models.PerformerKind // user or group
	id   string
}

// Resolve materializes performer assignments for the task and returns the
// diff of concrete identities that were added or removed.
func (r *Resolver) Resolve(ctx context.Context, wf *models.Workflow, task *models.Task, opts ResolveOptions) (PerformerDiff, error) {
	decls := task.RawPerformers
	if opts.Only != nil {
		decls = []*models.RawPerformer{opts.Only}
	}

	resolved := make(map[identity][]*models.RawPerformer)

	for _, decl := range decls {
		ident, ok, err := r.resolveDeclaration(ctx, wf, task, decl)
		if err != nil {
			return PerformerDiff{}, err
		}

		if ok {
			resolved[ident] = append(resolved[ident], decl)
		}
	}

	var diff PerformerDiff

	now := r.clock()

	for ident, contributors := range resolved {
		existing := findPerformer(task, ident)
		if existing == nil {
			task.Performers = append(task.Performers, &models.TaskPerformer{
				ID:             r.newID(),
				TaskID:         task.ID,
				Kind:           ident.kind,
				UserID:         userIDOf(ident),
				GroupID:        groupIDOf(ident),
				DirectlyStatus: models.DirectlyStatusNone,
			})

			diff = recordAdded(diff, ident)
			wf.AddMember(userIDOf(ident))

			continue
		}

		if existing.DirectlyStatus == models.DirectlyStatusDeleted &&
			opts.RestoreDeleted && anyFieldDriven(contributors) {
			// Last write wins on directly_status: the restore is stamped so a
			// later manual re-delete takes precedence over it.
			existing.DirectlyStatus = models.DirectlyStatusNone
			existing.StatusChangedAt = &now

			diff = recordAdded(diff, ident)
			wf.AddMember(userIDOf(ident))
		}
	}

	if opts.Only == nil {
		diff = r.cleanupOrphans(task, resolved, diff, now)
	}

	return diff, nil
}

func (r *Resolver) resolveDeclaration(ctx context.Context, wf *models.Workflow, task *models.Task, decl *models.RawPerformer) (identity, bool, error) {
	switch decl.Kind {
	case models.PerformerKindUser:
		return identity{kind: models.PerformerKindUser, id: decl.UserID}, decl.UserID != "", nil

	case models.PerformerKindGroup:
		return identity{kind: models.PerformerKindGroup, id: decl.GroupID}, decl.GroupID != "", nil

	case models.PerformerKindWorkflowStarter:
		if wf.StarterID != "" {
			return identity{kind: models.PerformerKindUser, id: wf.StarterID}, true, nil
		}

		owner, err := r.directory.AccountOwner(ctx, wf.AccountID)
		if err != nil {
			return identity{}, false, fmt.Errorf("failed to look up account owner: %w", err)
		}

		if owner == "" {
			return identity{}, false, fmt.Errorf("%w: no starter and no account owner for task %q",
				ErrInvalidWorkflowConfiguration, task.APIName)
		}

		return identity{kind: models.PerformerKindUser, id: owner}, true, nil

	case models.PerformerKindField:
		fv, ok := wf.PriorFieldValue(decl.FieldAPIName, task.Number)
		if !ok || fv.Type != models.FieldTypeUser || !fv.IsSet() {
			// A field with no value yet contributes no performer.
			return identity{}, false, nil
		}

		return identity{kind: models.PerformerKindUser, id: fv.Value}, true, nil

	default:
		return identity{}, false, fmt.Errorf("%w: unknown performer kind %q", ErrInvalidWorkflowConfiguration, decl.Kind)
	}
}

// cleanupOrphans soft-deletes performer rows no declaration resolves to
// anymore. Manually created or removed rows (directly_status set) are never
// auto-deleted.
func (r *Resolver) cleanupOrphans(task *models.Task, resolved map[identity][]*models.RawPerformer, diff PerformerDiff, now time.Time) PerformerDiff {
	for _, p := range task.Performers {
		if p.DeletedAt != nil || p.DirectlyStatus != models.DirectlyStatusNone {
			continue
		}

		ident := identity{kind: p.Kind, id: p.UserID}
		if p.Kind == models.PerformerKindGroup {
			ident.id = p.GroupID
		}

		if _, still := resolved[ident]; still {
			continue
		}

		deletedAt := now
		p.DeletedAt = &deletedAt

		if p.Kind == models.PerformerKindGroup {
			diff.RemovedGroupIDs = append(diff.RemovedGroupIDs, p.GroupID)
		} else {
			diff.RemovedUserIDs = append(diff.RemovedUserIDs, p.UserID)
		}
	}

	return diff
}

func findPerformer(task *models.Task, ident identity) *models.TaskPerformer {
	for _, p := range task.Performers {
		if p.DeletedAt != nil {
			continue
		}

		if p.Kind == ident.kind && (p.UserID == ident.id && ident.kind == models.PerformerKindUser ||
			p.GroupID == ident.id && ident.kind == models.PerformerKindGroup) {
			return p
		}
	}

	return nil
}

func anyFieldDriven(decls []*models.RawPerformer) bool {
	for _, d := range decls {
		if d.Kind == models.PerformerKindField {
			return true
		}
	}

	return false
}

func userIDOf(ident identity) string {
	if ident.kind == models.PerformerKindUser {
		return ident.id
	}

	return ""
}

func groupIDOf(ident identity) string {
	if ident.kind == models.PerformerKindGroup {
		return ident.id
	}

	return ""
}

func recordAdded(diff PerformerDiff, ident identity) PerformerDiff {
	if ident.kind == models.PerformerKindGroup {
		diff.AddedGroupIDs = append(diff.AddedGroupIDs, ident.id)
	} else {
		diff.AddedUserIDs = append(diff.AddedUserIDs, ident.id)
	}

	return diff
}
