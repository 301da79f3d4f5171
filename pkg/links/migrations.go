package links

import "github.com/vaultisle/dataroom/pkg/storage"

// Migrations returns the share link schema migrations
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create share_links table",
			SQL: `
				CREATE TABLE IF NOT EXISTS share_links (
					id BIGSERIAL PRIMARY KEY,
					slug VARCHAR(32) NOT NULL UNIQUE,
					document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					data_room_id BIGINT NOT NULL REFERENCES data_rooms(id) ON DELETE CASCADE,
					created_by BIGINT NOT NULL,
					password_hash VARCHAR(128) NOT NULL DEFAULT '',
					expires_at TIMESTAMP,
					max_views BIGINT,
					view_count BIGINT NOT NULL DEFAULT 0,
					require_email BOOLEAN NOT NULL DEFAULT FALSE,
					allowed_emails JSONB,
					allowed_domains JSONB,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_share_links_document_id ON share_links(document_id);
				CREATE INDEX idx_share_links_active_expiry ON share_links(active, expires_at);
			`,
		},
		{
			Version:     2,
			Description: "Create share_link_views table",
			SQL: `
				CREATE TABLE IF NOT EXISTS share_link_views (
					id BIGSERIAL PRIMARY KEY,
					link_id BIGINT NOT NULL REFERENCES share_links(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL DEFAULT '',
					verified BOOLEAN NOT NULL DEFAULT FALSE,
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent VARCHAR(512) NOT NULL DEFAULT '',
					duration_seconds BIGINT NOT NULL DEFAULT 0,
					pages_viewed BIGINT NOT NULL DEFAULT 0,
					viewed_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_share_link_views_link_id ON share_link_views(link_id);
			`,
		},
	}
}
