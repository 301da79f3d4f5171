package links

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/vaultisle/dataroom/pkg/notify"
	"github.com/vaultisle/dataroom/pkg/observability"
	"github.com/vaultisle/dataroom/pkg/storage"
)

// viewMilestones are the cumulative view counts that trigger a
// milestone notification to the link owner. Each fires at most once
// per link because exactly one visit observes each count.
var viewMilestones = []int64{10, 50, 100, 500, 1000, 5000, 10000}

// Notifier delivers owner-facing notifications. *notify.Dispatcher
// satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, event notify.Event)
}

// VisitorInfo carries request metadata recorded with a granted view.
type VisitorInfo struct {
	IPAddress string
	UserAgent string
}

// Gate admits or refuses visits through share links.
//
// Checks run in a fixed order so the reported reason is deterministic:
// revocation, expiry, quota, password, email. Notification dispatch is
// fire and forget; a failed notification never affects the verdict.
type Gate struct {
	store      *Store
	notifier   Notifier
	blobs      storage.BlobStore
	presignTTL time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics

	// nowFn is swappable in tests
	nowFn func() time.Time
}

// NewGate creates a share link gate. blobs may be nil, in which case
// granted outcomes carry no download URL.
func NewGate(store *Store, notifier Notifier, blobs storage.BlobStore, presignTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		store:      store,
		notifier:   notifier,
		blobs:      blobs,
		presignTTL: presignTTL,
		logger:     logger,
		metrics:    metrics,
		nowFn:      time.Now,
	}
}

// Visit evaluates one visit to the link behind slug. A policy refusal
// returns Granted=false with a reason and a nil error; a non-nil error
// means the store failed and the caller must answer with "temporarily
// unavailable", never a denial.
func (g *Gate) Visit(ctx context.Context, slug string, creds Credentials, visitor VisitorInfo) (Outcome, error) {
	link, err := g.store.GetBySlug(ctx, slug)
	if err != nil {
		return Outcome{}, err
	}

	now := g.nowFn().UTC()
	if reason := g.evaluate(link, creds, now); reason != "" {
		return g.refuse(link, reason), nil
	}

	view := &View{
		Email:     strings.ToLower(strings.TrimSpace(creds.Email)),
		Verified:  link.EmailGated() && creds.Email != "",
		IPAddress: visitor.IPAddress,
		UserAgent: visitor.UserAgent,
	}
	count, ok, err := g.store.ConsumeView(ctx, link.ID, view)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		// Lost the race for the last view slot to a concurrent visit
		if g.metrics != nil {
			g.metrics.LinkConsumeConflictsTotal.Inc()
		}
		return g.refuse(link, DenyExhausted), nil
	}

	if g.metrics != nil {
		g.metrics.LinkGateOutcomesTotal.WithLabelValues("granted").Inc()
		g.metrics.LinkViewsTotal.Inc()
	}
	g.notifyViewed(ctx, link, view, count)

	return Outcome{
		Granted:     true,
		DocumentID:  link.DocumentID,
		View:        view,
		DownloadURL: g.downloadURL(ctx, link),
	}, nil
}

// evaluate returns the first deny reason that applies, or "" when the
// visit should proceed to consumption.
func (g *Gate) evaluate(link *ShareLink, creds Credentials, now time.Time) DenyReason {
	switch link.State(now) {
	case StateRevoked:
		return DenyRevoked
	case StateExpired:
		return DenyExpired
	case StateExhausted:
		return DenyExhausted
	}
	if link.HasPassword() && !checkPassword(link.PasswordHash, creds.Password) {
		return DenyBadPassword
	}
	if link.EmailGated() {
		if strings.TrimSpace(creds.Email) == "" {
			return DenyEmailRequired
		}
		if !link.emailAllowed(creds.Email) {
			return DenyEmailNotAllowed
		}
	}
	return ""
}

func (g *Gate) refuse(link *ShareLink, reason DenyReason) Outcome {
	if g.metrics != nil {
		g.metrics.LinkGateOutcomesTotal.WithLabelValues(string(reason)).Inc()
	}
	g.logger.WithFields(map[string]interface{}{
		"link_id": link.ID,
		"slug":    link.Slug,
		"reason":  string(reason),
	}).Debug("share link visit refused")
	return Outcome{Granted: false, Reason: reason}
}

// notifyViewed tells the link owner about the view, plus a milestone
// event when the cumulative count lands exactly on a threshold. The
// count comes from the atomic consume, so concurrent visits each see a
// distinct count and no milestone fires twice.
func (g *Gate) notifyViewed(ctx context.Context, link *ShareLink, view *View, count int64) {
	if g.notifier == nil {
		return
	}
	payload := map[string]interface{}{
		"link_id":     link.ID,
		"slug":        link.Slug,
		"document_id": link.DocumentID,
		"view_count":  count,
	}
	if view.Email != "" {
		payload["visitor_email"] = view.Email
	}
	g.notifier.Dispatch(ctx, notify.NewEvent(link.CreatedBy, notify.KindLinkViewed, payload))

	for _, m := range viewMilestones {
		if count == m {
			if g.metrics != nil {
				g.metrics.LinkMilestonesTotal.WithLabelValues(milestoneLabel(m)).Inc()
			}
			g.notifier.Dispatch(ctx, notify.NewEvent(link.CreatedBy, notify.KindViewMilestone, map[string]interface{}{
				"link_id":     link.ID,
				"slug":        link.Slug,
				"document_id": link.DocumentID,
				"milestone":   m,
			}))
			break
		}
	}
}

// downloadURL presigns the document blob for the visitor. Failures are
// logged and swallowed; the visit was already granted.
func (g *Gate) downloadURL(ctx context.Context, link *ShareLink) string {
	if g.blobs == nil {
		return ""
	}
	key, err := g.store.GetDocumentBlobKey(ctx, link.DocumentID)
	if err != nil {
		g.logger.WithError(err).Warnf("failed to locate blob for document %d", link.DocumentID)
		return ""
	}
	url, err := g.blobs.PresignDownload(ctx, key, g.presignTTL)
	if err != nil {
		g.logger.WithError(err).Warnf("failed to presign download for document %d", link.DocumentID)
		return ""
	}
	return url
}

func milestoneLabel(m int64) string {
	return strconv.FormatInt(m, 10)
}
