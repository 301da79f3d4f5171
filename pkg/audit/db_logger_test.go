package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBLoggerRequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestDBLoggerLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	actor := int64(42)
	room := int64(1)
	event := &Event{
		EventType:    EventTypeLinkCreate,
		Status:       EventStatusSuccess,
		ActorID:      &actor,
		DataRoomID:   &room,
		ResourceType: ResourceTypeLink,
		ResourceID:   "17",
		IPAddress:    "10.0.0.9",
		RequestID:    "req-1",
		Metadata:     map[string]interface{}{"slug": "abc"},
	}

	mock.ExpectQuery("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "link.create", "success", &actor, &room,
			"link", "17", "10.0.0.9", "req-1", "", `{"slug":"abc"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(99), event.ID)
	assert.False(t, event.Timestamp.IsZero(), "Log must stamp the event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoggerLogNilMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "link.denied", "denied", nil, nil,
			"link", "17", "", "", "quota exhausted", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

	event := &Event{
		EventType:    EventTypeLinkDenied,
		Status:       EventStatusDenied,
		ResourceType: ResourceTypeLink,
		ResourceID:   "17",
		Message:      "quota exhausted",
	}
	require.NoError(t, logger.Log(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoggerSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	now := time.Now()
	room := int64(1)
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "event_type", "status", "actor_id", "data_room_id",
		"resource_type", "resource_id", "ip_address", "request_id", "message", "metadata",
	}).AddRow(5, now, "group.create", "success", 42, 1, "group", "3", "", "req-2", "", `{"name":"buyers"}`)

	mock.ExpectQuery("SELECT (.+) FROM audit_events").
		WithArgs(room, "group.create", 50).
		WillReturnRows(rows)

	events, err := logger.Search(context.Background(), SearchFilter{
		DataRoomID: &room,
		EventType:  EventTypeGroupCreate,
		Limit:      50,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeGroupCreate, events[0].EventType)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, int64(42), *events[0].ActorID)
	assert.Equal(t, "buyers", events[0].Metadata["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoggerSearchDefaultLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM audit_events").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "timestamp", "event_type", "status", "actor_id", "data_room_id",
			"resource_type", "resource_id", "ip_address", "request_id", "message", "metadata",
		}))

	events, err := logger.Search(context.Background(), SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubLogger struct {
	events []*Event
	err    error
}

func (s *stubLogger) Log(_ context.Context, event *Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestMultiLoggerFansOut(t *testing.T) {
	broken := &stubLogger{err: errors.New("disk full")}
	healthy := &stubLogger{}
	multi := NewMultiLogger(broken, healthy)

	event := &Event{EventType: EventTypeLinkView, Status: EventStatusSuccess}
	err := multi.Log(context.Background(), event)

	// The first failure is reported but every sink still gets the event
	assert.Error(t, err)
	assert.Len(t, broken.events, 1)
	assert.Len(t, healthy.events, 1)
}
