package audit

import "github.com/vaultisle/dataroom/pkg/storage"

// Migrations returns the audit schema migrations
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					actor_id BIGINT,
					data_room_id BIGINT,
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					ip_address VARCHAR(45),
					request_id VARCHAR(100),
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX idx_audit_events_timestamp ON audit_events(timestamp DESC);
				CREATE INDEX idx_audit_events_event_type ON audit_events(event_type);
				CREATE INDEX idx_audit_events_actor_id ON audit_events(actor_id);
				CREATE INDEX idx_audit_events_resource ON audit_events(resource_type, resource_id);
			`,
		},
	}
}
