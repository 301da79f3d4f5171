package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultisle/dataroom/pkg/observability"
)

// Matched rule names reported in decisions
const (
	RuleOwner         = "owner"
	RuleAdministrator = "administrator"
	RuleOverride      = "override"
)

// Resolver combines ownership, administrator membership, and explicit or
// inherited overrides into one authorization decision.
//
// Resolve performs only reads and keeps no decision cache, so it is safe
// for concurrent evaluation and a permission write is visible to every
// resolution issued after the write completes.
type Resolver struct {
	store     *Store
	groups    GroupDirectory
	hierarchy *Hierarchy
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewResolver creates an effective permission resolver
func NewResolver(store *Store, groups GroupDirectory, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:     store,
		groups:    groups,
		hierarchy: NewHierarchy(store, logger, metrics),
		logger:    logger,
		metrics:   metrics,
	}
}

// Resolve decides whether the actor may perform the operation on the
// resource. A policy denial carries Allowed=false and a nil error; a
// non-nil error means the store was unreachable and the deny must be
// surfaced as "temporarily unavailable", never "forbidden".
func (r *Resolver) Resolve(ctx context.Context, actor Actor, res ResourceRef, op Operation) (Decision, error) {
	start := time.Now()
	decision, err := r.resolve(ctx, actor, res, op)
	decision.CheckedAt = time.Now()

	if r.metrics != nil {
		r.metrics.AuthzDecisionDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			r.metrics.AuthzStoreErrorsTotal.Inc()
		case decision.Allowed:
			r.metrics.AuthzDecisionsTotal.WithLabelValues("allow", decision.MatchedRule).Inc()
		default:
			r.metrics.AuthzDecisionsTotal.WithLabelValues("deny", string(decision.Reason)).Inc()
		}
	}

	return decision, err
}

func (r *Resolver) resolve(ctx context.Context, actor Actor, res ResourceRef, op Operation) (Decision, error) {
	required, err := op.RequiredLevel()
	if err != nil {
		return deny(), err
	}

	// Anonymous visitors never hold member permissions; they enter
	// through the share link gate instead
	if actor.Anonymous {
		return deny(), nil
	}

	ownerID, dataRoomID, err := r.resourceIdentity(ctx, res)
	if err != nil {
		return deny(), err
	}

	// Rule 1: ownership covers everything except managing other users'
	// access; that still requires administration or an explicit manage
	// override
	if actor.UserID == ownerID && op != OpManage {
		return allow(RuleOwner, LevelEdit), nil
	}

	// Rule 2: administrator-group membership in the resource's room
	isAdmin, err := r.groups.IsAdministrator(ctx, actor.UserID, dataRoomID)
	if err != nil {
		return deny(), fmt.Errorf("failed to check administrator membership: %w", err)
	}
	if isAdmin {
		return allow(RuleAdministrator, LevelManage), nil
	}

	// Rule 3: nearest explicit override, inherited down the folder tree
	level, found, err := r.hierarchy.ResolveOverride(ctx, res, actor.UserID, actor.GroupIDs)
	if err != nil {
		return deny(), err
	}
	if found && level >= required {
		return allow(RuleOverride, level), nil
	}

	return deny(), nil
}

// resourceIdentity loads the owner and data room of the resource
func (r *Resolver) resourceIdentity(ctx context.Context, res ResourceRef) (ownerID, dataRoomID int64, err error) {
	switch res.Kind {
	case ResourceDocument:
		doc, err := r.store.GetDocumentMeta(ctx, res.ID)
		if err != nil {
			return 0, 0, err
		}
		return doc.OwnerID, doc.DataRoomID, nil
	case ResourceFolder:
		folder, err := r.store.GetFolderMeta(ctx, res.ID)
		if err != nil {
			return 0, 0, err
		}
		return folder.OwnerID, folder.DataRoomID, nil
	}
	return 0, 0, fmt.Errorf("unknown resource kind: %q", res.Kind)
}

func allow(rule string, level Level) Decision {
	return Decision{Allowed: true, MatchedRule: rule, Level: level}
}

func deny() Decision {
	return Decision{Allowed: false, Reason: ReasonInsufficientPermission}
}
