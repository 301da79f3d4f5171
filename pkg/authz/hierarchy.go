package authz

import (
	"context"

	"github.com/vaultisle/dataroom/pkg/observability"
)

// Hierarchy resolves the nearest explicit permission override for a
// subject by walking a resource's ancestor folder chain.
type Hierarchy struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHierarchy creates a hierarchy resolver
func NewHierarchy(store *Store, logger *observability.Logger, metrics *observability.Metrics) *Hierarchy {
	return &Hierarchy{store: store, logger: logger, metrics: metrics}
}

// ResolveOverride walks from the resource up the folder tree and returns
// the nearest applicable explicit level for the user or its groups.
// Returns found=false when no ancestor carries a row for any of the
// subjects.
//
// A cyclic parent chain is corrupted data: the walk stops at the repeat,
// logs, and reports no override (fail closed).
func (h *Hierarchy) ResolveOverride(ctx context.Context, res ResourceRef, userID int64, groupIDs []int64) (Level, bool, error) {
	var startFolder *int64
	depth := 0

	if res.Kind == ResourceDocument {
		// The document's own rows beat anything inherited
		rows, err := h.store.permissionsForSubjects(ctx, ResourceDocument, res.ID, userID, groupIDs)
		if err != nil {
			return LevelNone, false, err
		}
		if level, ok := bestLevel(rows); ok {
			h.observeDepth(depth)
			return level, true, nil
		}

		doc, err := h.store.GetDocumentMeta(ctx, res.ID)
		if err != nil {
			return LevelNone, false, err
		}
		startFolder = doc.FolderID
	} else {
		id := res.ID
		startFolder = &id
	}

	visited := make(map[int64]struct{})
	current := startFolder
	for current != nil {
		if _, seen := visited[*current]; seen {
			h.logger.WithFields(map[string]interface{}{
				"folder_id":     *current,
				"resource_kind": string(res.Kind),
				"resource_id":   res.ID,
			}).Warn("cyclic folder parent chain detected, treating as no override")
			if h.metrics != nil {
				h.metrics.HierarchyCyclesTotal.Inc()
			}
			return LevelNone, false, nil
		}
		visited[*current] = struct{}{}
		depth++

		rows, err := h.store.permissionsForSubjects(ctx, ResourceFolder, *current, userID, groupIDs)
		if err != nil {
			return LevelNone, false, err
		}
		if level, ok := bestLevel(rows); ok {
			h.observeDepth(depth)
			return level, true, nil
		}

		folder, err := h.store.GetFolderMeta(ctx, *current)
		if err != nil {
			return LevelNone, false, err
		}
		current = folder.ParentID
	}

	h.observeDepth(depth)
	return LevelNone, false, nil
}

func (h *Hierarchy) observeDepth(depth int) {
	if h.metrics != nil {
		h.metrics.HierarchyWalkDepth.Observe(float64(depth))
	}
}

// bestLevel picks the winning level among the rows found on one resource:
// a user-scoped row wins outright; otherwise the highest group level wins
// (additive across memberships).
func bestLevel(rows []PermissionRow) (Level, bool) {
	var groupBest Level
	groupFound := false

	for _, row := range rows {
		if row.Subject.Kind == SubjectUser {
			return row.Level, true
		}
		if !groupFound || row.Level > groupBest {
			groupBest = row.Level
			groupFound = true
		}
	}
	return groupBest, groupFound
}
