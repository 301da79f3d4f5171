package authz

import "github.com/vaultisle/dataroom/pkg/storage"

// Migrations returns the permission and resource schema migrations
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create folders table",
			SQL: `
				CREATE TABLE IF NOT EXISTS folders (
					id BIGSERIAL PRIMARY KEY,
					data_room_id BIGINT NOT NULL REFERENCES data_rooms(id) ON DELETE CASCADE,
					parent_id BIGINT REFERENCES folders(id) ON DELETE CASCADE,
					owner_id BIGINT NOT NULL,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_folders_data_room_id ON folders(data_room_id);
				CREATE INDEX idx_folders_parent_id ON folders(parent_id);
			`,
		},
		{
			Version:     2,
			Description: "Create documents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS documents (
					id BIGSERIAL PRIMARY KEY,
					data_room_id BIGINT NOT NULL REFERENCES data_rooms(id) ON DELETE CASCADE,
					folder_id BIGINT REFERENCES folders(id) ON DELETE SET NULL,
					owner_id BIGINT NOT NULL,
					name VARCHAR(255) NOT NULL,
					blob_key VARCHAR(512) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_documents_data_room_id ON documents(data_room_id);
				CREATE INDEX idx_documents_folder_id ON documents(folder_id);
				CREATE INDEX idx_documents_owner_id ON documents(owner_id);
			`,
		},
		{
			Version:     3,
			Description: "Create resource_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resource_permissions (
					resource_kind VARCHAR(16) NOT NULL,
					resource_id BIGINT NOT NULL,
					subject_kind VARCHAR(16) NOT NULL,
					subject_id BIGINT NOT NULL,
					level INTEGER NOT NULL,
					granted_by BIGINT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (resource_kind, resource_id, subject_kind, subject_id)
				);

				CREATE INDEX idx_resource_permissions_resource ON resource_permissions(resource_kind, resource_id);
				CREATE INDEX idx_resource_permissions_subject ON resource_permissions(subject_kind, subject_id);
			`,
		},
	}
}
