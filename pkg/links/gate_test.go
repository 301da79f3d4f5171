package links

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vaultisle/dataroom/pkg/notify"
	"github.com/vaultisle/dataroom/pkg/observability"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A single connection keeps the in-memory database shared and
	// serializes transactions the way postgres row locks would
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data_room_id INTEGER NOT NULL,
			folder_id INTEGER,
			owner_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			blob_key TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE share_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slug TEXT NOT NULL UNIQUE,
			document_id INTEGER NOT NULL,
			data_room_id INTEGER NOT NULL,
			created_by INTEGER NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMP,
			max_views INTEGER,
			view_count INTEGER NOT NULL DEFAULT 0,
			require_email INTEGER NOT NULL DEFAULT 0,
			allowed_emails TEXT,
			allowed_domains TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE share_link_views (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			link_id INTEGER NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			verified INTEGER NOT NULL DEFAULT 0,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			pages_viewed INTEGER NOT NULL DEFAULT 0,
			viewed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO documents (data_room_id, owner_id, name, blob_key) VALUES (1, 42, 'pitch deck', 'rooms/1/pitch.pdf')`); err != nil {
		t.Fatalf("Failed to insert document: %v", err)
	}
	return db
}

// recordingNotifier captures dispatched events synchronously
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) byKind(kind notify.Kind) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestGate(t *testing.T, db *sql.DB) (*Gate, *Store, *recordingNotifier) {
	t.Helper()
	store := NewStore(db)
	notifier := &recordingNotifier{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewGate(store, notifier, nil, 15*time.Minute, logger, nil), store, notifier
}

func TestVisitUnknownSlug(t *testing.T) {
	db := setupTestDB(t)
	gate, _, _ := newTestGate(t, db)

	_, err := gate.Visit(context.Background(), "no-such-slug", Credentials{}, VisitorInfo{})
	if err == nil {
		t.Fatal("expected not-found error for unknown slug")
	}
}

func TestVisitPlainLink(t *testing.T) {
	db := setupTestDB(t)
	gate, store, notifier := newTestGate(t, db)
	ctx := context.Background()

	link, err := store.CreateLink(ctx, CreateParams{DocumentID: 1, CreatedBy: 42})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	outcome, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{IPAddress: "10.0.0.9", UserAgent: "test"})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if !outcome.Granted {
		t.Fatalf("expected grant, got refusal %q", outcome.Reason)
	}
	if outcome.DocumentID != link.DocumentID {
		t.Errorf("outcome names document %d, want %d", outcome.DocumentID, link.DocumentID)
	}
	if outcome.View == nil || outcome.View.ID == 0 {
		t.Fatal("granted visit must record a view")
	}
	if outcome.View.IPAddress != "10.0.0.9" {
		t.Errorf("view did not capture visitor address: %+v", outcome.View)
	}
	if outcome.DownloadURL != "" {
		t.Error("no blob store configured, outcome must carry no download URL")
	}

	got, err := store.GetLink(ctx, link.ID)
	if err != nil {
		t.Fatalf("GetLink failed: %v", err)
	}
	if got.ViewCount != 1 {
		t.Errorf("view count = %d, want 1", got.ViewCount)
	}

	viewed := notifier.byKind(notify.KindLinkViewed)
	if len(viewed) != 1 {
		t.Fatalf("expected 1 viewed notification, got %d", len(viewed))
	}
	if viewed[0].TargetUserID != 42 {
		t.Errorf("notification targets user %d, want the link owner 42", viewed[0].TargetUserID)
	}
}

func TestRevokedBeatsAllOtherChecks(t *testing.T) {
	db := setupTestDB(t)
	gate, store, _ := newTestGate(t, db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	one := int64(1)
	link, err := store.CreateLink(ctx, CreateParams{
		DocumentID: 1, CreatedBy: 42,
		Password: "secret", ExpiresAt: &past, MaxViews: &one, RequireEmail: true,
	})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	if err := store.Deactivate(ctx, link.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	outcome, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if outcome.Granted || outcome.Reason != DenyRevoked {
		t.Errorf("expected REVOKED, got granted=%v reason=%q", outcome.Granted, outcome.Reason)
	}
}

func TestExpiryCheckedBeforePassword(t *testing.T) {
	db := setupTestDB(t)
	gate, store, _ := newTestGate(t, db)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	link, err := store.CreateLink(ctx, CreateParams{
		DocumentID: 1, CreatedBy: 42, Password: "secret", ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	// Even with the right password the verdict is EXPIRED: constraint
	// order is fixed so the caller learns nothing about the password
	outcome, err := gate.Visit(ctx, link.Slug, Credentials{Password: "secret"}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if outcome.Granted || outcome.Reason != DenyExpired {
		t.Errorf("expected EXPIRED, got granted=%v reason=%q", outcome.Granted, outcome.Reason)
	}
}

func TestPasswordGate(t *testing.T) {
	db := setupTestDB(t)
	gate, store, _ := newTestGate(t, db)
	ctx := context.Background()

	link, err := store.CreateLink(ctx, CreateParams{DocumentID: 1, CreatedBy: 42, Password: "secret"})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	for _, password := range []string{"", "wrong"} {
		outcome, err := gate.Visit(ctx, link.Slug, Credentials{Password: password}, VisitorInfo{})
		if err != nil {
			t.Fatalf("Visit failed: %v", err)
		}
		if outcome.Granted || outcome.Reason != DenyBadPassword {
			t.Errorf("password %q: expected BAD_PASSWORD, got granted=%v reason=%q", password, outcome.Granted, outcome.Reason)
		}
	}

	outcome, err := gate.Visit(ctx, link.Slug, Credentials{Password: "secret"}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if !outcome.Granted {
		t.Errorf("correct password refused: %q", outcome.Reason)
	}
}

func TestEmailGate(t *testing.T) {
	db := setupTestDB(t)
	gate, store, _ := newTestGate(t, db)
	ctx := context.Background()

	link, err := store.CreateLink(ctx, CreateParams{
		DocumentID: 1, CreatedBy: 42,
		RequireEmail:   true,
		AllowedEmails:  []string{"Alice@Example.com"},
		AllowedDomains: []string{"acquirer.test"},
	})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	outcome, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if outcome.Reason != DenyEmailRequired {
		t.Errorf("expected EMAIL_REQUIRED, got %q", outcome.Reason)
	}

	outcome, err = gate.Visit(ctx, link.Slug, Credentials{Email: "mallory@other.test"}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if outcome.Reason != DenyEmailNotAllowed {
		t.Errorf("expected EMAIL_NOT_ALLOWED, got %q", outcome.Reason)
	}

	// Allow-list match is case-insensitive
	outcome, err = gate.Visit(ctx, link.Slug, Credentials{Email: "ALICE@example.COM"}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if !outcome.Granted {
		t.Fatalf("allow-listed email refused: %q", outcome.Reason)
	}
	if !outcome.View.Verified {
		t.Error("email-gated grant must record a verified view")
	}

	// Domain match admits addresses outside the explicit list
	outcome, err = gate.Visit(ctx, link.Slug, Credentials{Email: "bob@acquirer.test"}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if !outcome.Granted {
		t.Errorf("allowed-domain email refused: %q", outcome.Reason)
	}
}

func TestQuotaExhaustion(t *testing.T) {
	db := setupTestDB(t)
	gate, store, _ := newTestGate(t, db)
	ctx := context.Background()

	one := int64(1)
	link, err := store.CreateLink(ctx, CreateParams{DocumentID: 1, CreatedBy: 42, MaxViews: &one})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	outcome, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if !outcome.Granted {
		t.Fatalf("first visit refused: %q", outcome.Reason)
	}

	outcome, err = gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if outcome.Granted || outcome.Reason != DenyExhausted {
		t.Errorf("expected EXHAUSTED, got granted=%v reason=%q", outcome.Granted, outcome.Reason)
	}
}

func TestConcurrentVisitsGrantExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	gate, store, _ := newTestGate(t, db)
	ctx := context.Background()

	one := int64(1)
	link, err := store.CreateLink(ctx, CreateParams{DocumentID: 1, CreatedBy: 42, MaxViews: &one})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	const visitors = 8
	outcomes := make([]Outcome, visitors)
	var wg sync.WaitGroup
	for i := 0; i < visitors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{})
			if err != nil {
				t.Errorf("Visit failed: %v", err)
				return
			}
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, o := range outcomes {
		if o.Granted {
			granted++
		} else if o.Reason != DenyExhausted {
			t.Errorf("loser saw %q, want EXHAUSTED", o.Reason)
		}
	}
	if granted != 1 {
		t.Fatalf("%d visitors granted for a single view slot", granted)
	}

	got, err := store.GetLink(ctx, link.ID)
	if err != nil {
		t.Fatalf("GetLink failed: %v", err)
	}
	if got.ViewCount != 1 {
		t.Errorf("view count = %d, want exactly 1", got.ViewCount)
	}
	views, err := store.ListViews(ctx, link.ID)
	if err != nil {
		t.Fatalf("ListViews failed: %v", err)
	}
	if len(views) != 1 {
		t.Errorf("recorded %d views, want exactly 1", len(views))
	}
}

func TestMilestoneFiresExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	gate, store, notifier := newTestGate(t, db)
	ctx := context.Background()

	link, err := store.CreateLink(ctx, CreateParams{DocumentID: 1, CreatedBy: 42})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	// Park the counter just below the first milestone
	if _, err := db.Exec(`UPDATE share_links SET view_count = 9 WHERE id = $1`, link.ID); err != nil {
		t.Fatalf("Failed to seed view count: %v", err)
	}

	outcome, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if !outcome.Granted {
		t.Fatalf("visit refused: %q", outcome.Reason)
	}

	milestones := notifier.byKind(notify.KindViewMilestone)
	if len(milestones) != 1 {
		t.Fatalf("expected exactly 1 milestone event at count 10, got %d", len(milestones))
	}
	if milestones[0].Payload["milestone"] != int64(10) {
		t.Errorf("milestone payload = %v, want 10", milestones[0].Payload["milestone"])
	}

	// The next view is count 11: no milestone
	if _, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{}); err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if got := notifier.byKind(notify.KindViewMilestone); len(got) != 1 {
		t.Errorf("milestone fired again past the threshold: %d events", len(got))
	}
}

func TestVisitStoreFaultIsAnError(t *testing.T) {
	db := setupTestDB(t)
	gate, store, _ := newTestGate(t, db)
	ctx := context.Background()

	link, err := store.CreateLink(ctx, CreateParams{DocumentID: 1, CreatedBy: 42})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	db.Close()

	if _, err := gate.Visit(ctx, link.Slug, Credentials{}, VisitorInfo{}); err == nil {
		t.Fatal("store failure must surface as an error, never as a denial")
	}
}
