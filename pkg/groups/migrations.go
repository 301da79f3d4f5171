package groups

import "github.com/vaultisle/dataroom/pkg/storage"

// Migrations returns the group schema migrations
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create data_rooms table",
			SQL: `
				CREATE TABLE IF NOT EXISTS data_rooms (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					created_by BIGINT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					data_room_id BIGINT NOT NULL REFERENCES data_rooms(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					type VARCHAR(32) NOT NULL,
					capabilities JSONB NOT NULL DEFAULT '{}',
					created_by BIGINT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(data_room_id, name)
				);

				CREATE INDEX idx_groups_data_room_id ON groups(data_room_id);
				CREATE INDEX idx_groups_type ON groups(type);
			`,
		},
		{
			Version:     3,
			Description: "Create group_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS group_memberships (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					added_by BIGINT,
					added_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(group_id, user_id)
				);

				CREATE INDEX idx_group_memberships_group_id ON group_memberships(group_id);
				CREATE INDEX idx_group_memberships_user_id ON group_memberships(user_id);
			`,
		},
	}
}
