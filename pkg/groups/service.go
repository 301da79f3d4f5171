package groups

import (
	"context"
	"fmt"

	"github.com/vaultisle/dataroom/pkg/observability"
)

// Service wraps the store with room lifecycle rules
type Service struct {
	store  *Store
	logger *observability.Logger
}

// NewService creates a new group service
func NewService(store *Store, logger *observability.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Store exposes the underlying store for read paths
func (s *Service) Store() *Store {
	return s.store
}

// BootstrapDataRoom creates the default ADMINISTRATOR group for a freshly
// created data room and enrolls the room's creator in it.
func (s *Service) BootstrapDataRoom(ctx context.Context, dataRoomID, creatorID int64) (*Group, error) {
	admin := &Group{
		DataRoomID:   dataRoomID,
		Name:         "Administrators",
		Type:         TypeAdministrator,
		Capabilities: AdministratorCapabilities(),
		CreatedBy:    &creatorID,
	}
	if err := s.store.CreateGroup(ctx, admin); err != nil {
		return nil, fmt.Errorf("failed to create default administrator group: %w", err)
	}

	if err := s.store.AddMember(ctx, admin.ID, creatorID, &creatorID); err != nil {
		return nil, fmt.Errorf("failed to enroll creator in administrator group: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"data_room_id": dataRoomID,
		"group_id":     admin.ID,
	}).Info("bootstrapped data room administrator group")

	return admin, nil
}

// CreateGroup creates a custom group. Only administrators of the room may
// call this; the caller is responsible for that check.
func (s *Service) CreateGroup(ctx context.Context, group *Group) error {
	// ADMINISTRATOR groups always carry the full flag set regardless of
	// what the caller supplied
	if group.Type == TypeAdministrator {
		group.Capabilities = AdministratorCapabilities()
	}
	return s.store.CreateGroup(ctx, group)
}

// DeleteGroup removes a group and its memberships. The last ADMINISTRATOR
// group of a room cannot be deleted.
func (s *Service) DeleteGroup(ctx context.Context, groupID int64) error {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	if group.IsAdministrator() {
		all, err := s.store.ListGroups(ctx, group.DataRoomID)
		if err != nil {
			return err
		}
		adminCount := 0
		for _, g := range all {
			if g.IsAdministrator() {
				adminCount++
			}
		}
		if adminCount <= 1 {
			return fmt.Errorf("cannot delete the last administrator group of data room %d", group.DataRoomID)
		}
	}

	return s.store.DeleteGroup(ctx, groupID)
}

// GroupIDsForUser returns the IDs of the user's groups within a room
func (s *Service) GroupIDsForUser(ctx context.Context, userID, dataRoomID int64) ([]int64, error) {
	groups, err := s.store.GroupsForUser(ctx, userID, dataRoomID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// IsAdministrator reports administrator-group membership within a room
func (s *Service) IsAdministrator(ctx context.Context, userID, dataRoomID int64) (bool, error) {
	return s.store.IsAdministrator(ctx, userID, dataRoomID)
}
