package followup

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"callops/internal/calls"
	"callops/internal/metrics"
	"callops/pkg/logger"
)

var ErrInvalidRequest = errors.New("followup: invalid request")

const (
	DefaultLookback = 30 * 24 * time.Hour
	DefaultLimit    = 50
	MaxLimit        = 200
)

// SessionLister is the slice of calls.Store the builder reads.
type SessionLister interface {
	ListRecent(ctx context.Context, workspaceID, jobID string, since time.Time, limit int) ([]calls.CallSession, error)
}

// ChannelAdvisor suggests a channel for a reached customer, typically from
// a text-generation model. It is optional.
type ChannelAdvisor interface {
	SuggestChannel(ctx context.Context, s calls.CallSession) (Channel, error)
}

// TaskPool runs advisor calls concurrently. Implemented by *ants.Pool.
type TaskPool interface {
	Submit(task func()) error
}

type Builder struct {
	sessions SessionLister
	repo     Repository
	advisor  ChannelAdvisor
	pool     TaskPool
	policy   Policy

	lookback     time.Duration
	defaultLimit int
	loc          *time.Location
	clock        func() time.Time
}

type Option func(*Builder)

func WithAdvisor(a ChannelAdvisor) Option { return func(b *Builder) { b.advisor = a } }

// WithAdvisorPool fans advisor calls out on p. Without it they run inline.
func WithAdvisorPool(p TaskPool) Option { return func(b *Builder) { b.pool = p } }

func WithPolicy(p Policy) Option { return func(b *Builder) { b.policy = p } }

func WithLookback(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.lookback = d
		}
	}
}

func WithDefaultLimit(n int) Option {
	return func(b *Builder) {
		if n > 0 && n <= MaxLimit {
			b.defaultLimit = n
		}
	}
}

// WithLocation sets the zone that defines "today" for due dates and
// same-day message matching.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		if loc != nil {
			b.loc = loc
		}
	}
}

func NewBuilder(sessions SessionLister, repo Repository, opts ...Option) *Builder {
	b := &Builder{
		sessions:     sessions,
		repo:         repo,
		policy:       DefaultPolicy(),
		lookback:     DefaultLookback,
		defaultLimit: DefaultLimit,
		loc:          time.UTC,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build loads recent calls, joins quote, invoice and same-day message
// context, and derives each call's follow-up state.
func (b *Builder) Build(ctx context.Context, req QueueRequest) (Queue, error) {
	if req.WorkspaceID == "" || req.Limit < 0 || req.Limit > MaxLimit {
		return Queue{}, ErrInvalidRequest
	}
	if b.sessions == nil || b.repo == nil {
		return Queue{}, errors.New("followup: builder not configured")
	}
	limit := req.Limit
	if limit == 0 {
		limit = b.defaultLimit
	}
	now := b.clock().In(b.loc)

	sessions, err := b.sessions.ListRecent(ctx, req.WorkspaceID, req.JobID, now.Add(-b.lookback), limit)
	if err != nil {
		return Queue{}, err
	}
	jobIDs := distinctJobIDs(sessions)

	quotes, err := b.repo.LatestQuotes(ctx, req.WorkspaceID, jobIDs)
	if err != nil {
		return Queue{}, err
	}
	invoices, err := b.repo.OpenInvoiceDueDates(ctx, req.WorkspaceID, jobIDs)
	if err != nil {
		return Queue{}, err
	}
	messages, err := b.repo.OutboundMessagesSince(ctx, req.WorkspaceID, startOfDay(now))
	if err != nil {
		return Queue{}, err
	}

	q := Queue{
		Entries:      make([]Entry, 0, len(sessions)),
		Candidates:   make([]Entry, 0),
		CandidateIDs: make([]string, 0),
	}
	drafts := make([]draft, len(sessions))
	pending := make([]calls.CallSession, 0)
	for i, s := range sessions {
		drafts[i] = b.draft(s, quotes, invoices, messages, now)
		if classify(drafts[i].in) == outcomeNeedsFollowup {
			pending = append(pending, s)
		}
	}
	advice := b.suggestions(ctx, pending)

	for _, d := range drafts {
		d.in.ModelChannelSuggestion = advice[d.e.Session.ID]
		e := b.finish(d, messages, now)
		q.Entries = append(q.Entries, e)
		if e.Candidate() {
			q.Candidates = append(q.Candidates, e)
		}
	}
	sort.SliceStable(q.Candidates, func(i, j int) bool {
		di, dj := q.Candidates[i].Due.DueAt, q.Candidates[j].Due.DueAt
		if !di.Equal(*dj) {
			return di.Before(*dj)
		}
		return q.Candidates[i].Session.CreatedAt.After(q.Candidates[j].Session.CreatedAt)
	})
	for _, c := range q.Candidates {
		q.CandidateIDs = append(q.CandidateIDs, c.Session.ID)
	}

	metrics.ObserveQueueBuild(len(q.Entries), len(q.Candidates))
	logger.From(ctx).Debug("followup queue built",
		"workspace_id", req.WorkspaceID,
		"entries", len(q.Entries),
		"candidate_ids", q.CandidateIDs,
	)
	return q, nil
}

// draft holds an entry whose recommendation still waits on the advisor.
type draft struct {
	e                  Entry
	in                 RecommendationInput
	quoteAt, invoiceAt *time.Time
}

func (b *Builder) draft(s calls.CallSession, quotes map[string]Quote, invoices map[string]time.Time, messages []Message, now time.Time) draft {
	d := draft{e: Entry{Session: s}}
	d.in = RecommendationInput{
		OutcomeCode:    s.OutcomeCodeValue(),
		ProviderStatus: string(s.StatusValue()),
	}
	if qt, ok := quotes[s.JobIDValue()]; ok && s.JobID != nil {
		id, at := qt.ID, qt.CreatedAt
		d.e.QuoteID = &id
		d.quoteAt = &at
		days := calendarDaysBetween(at.In(now.Location()), now)
		d.in.DaysSinceQuote = &days
	}
	if due, ok := invoices[s.JobIDValue()]; ok && s.JobID != nil {
		d.invoiceAt = &due
	}
	d.in.MessagedToday = anyMessageFor(messages, s.JobID, d.e.QuoteID, "")
	return d
}

func (b *Builder) finish(d draft, messages []Message, now time.Time) Entry {
	e := d.e
	e.Recommendation = b.policy.Derive(d.in)
	created := e.Session.CreatedAt
	e.Due = ComputeDueInfo(DueInput{
		QuoteCreatedAt:       d.quoteAt,
		CallCreatedAt:        &created,
		InvoiceDueAt:         d.invoiceAt,
		RecommendedDelayDays: e.Recommendation.RecommendedDelayDays,
		Now:                  now,
	})
	if !e.Recommendation.ShouldSkipFollowup {
		e.HasMatchingFollowupToday = anyMessageFor(messages, e.Session.JobID, e.QuoteID, e.Recommendation.Channel())
	}
	return e
}

// suggestions asks the advisor about each pending session. Failures are
// logged and leave that session without a suggestion.
func (b *Builder) suggestions(ctx context.Context, pending []calls.CallSession) map[string]Channel {
	out := make(map[string]Channel, len(pending))
	if b.advisor == nil || len(pending) == 0 {
		return out
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, s := range pending {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			ch, err := b.advisor.SuggestChannel(ctx, s)
			if err != nil {
				logger.From(ctx).Warn("channel advisor failed", "session_id", s.ID, "err", err)
				return
			}
			mu.Lock()
			out[s.ID] = ch
			mu.Unlock()
		}
		if b.pool == nil {
			task()
			continue
		}
		if err := b.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	return out
}

// anyMessageFor reports a message for the same job or quote. An empty
// channel matches any channel.
func anyMessageFor(messages []Message, jobID, quoteID *string, ch Channel) bool {
	for _, m := range messages {
		if ch != "" && m.Channel != ch {
			continue
		}
		if jobID != nil && m.JobID != nil && *m.JobID == *jobID {
			return true
		}
		if quoteID != nil && m.QuoteID != nil && *m.QuoteID == *quoteID {
			return true
		}
	}
	return false
}

func distinctJobIDs(sessions []calls.CallSession) []string {
	seen := map[string]bool{}
	out := make([]string, 0)
	for _, s := range sessions {
		id := s.JobIDValue()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
