// Package scheduler runs the periodic sweeps that move session and whiteboard state forward
// without user action.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/cache"
	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// Job names, also used as metric labels.
const (
	JobReminders  = "reminders"
	JobAutoEnd    = "auto_end"
	JobStuck      = "stuck_sessions"
	JobNoShow     = "no_show"
	JobWhiteboard = "whiteboard_abandonment"
	JobCachePurge = "cache_purge"
)

// SessionEngine is the subset of the lifecycle engine the sweeps drive.
type SessionEngine interface {
	ListSessions(ctx context.Context, filter services.SessionFilter) ([]models.VideoSession, error)
	ForceComplete(ctx context.Context, sessionID, reason string) (bool, error)
	MarkNoShow(ctx context.Context, sessionID string) (bool, error)
}

// WhiteboardEngine is the subset of the whiteboard engine the abandonment sweep drives.
type WhiteboardEngine interface {
	ListAbandoned(ctx context.Context, cutoff time.Time) ([]models.WhiteboardRoom, error)
	CloseWhiteboard(ctx context.Context, classSessionID string, permanent bool) (*models.WhiteboardRoom, error)
}

// ExpiredPurger removes expired cache entries.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Config holds sweep schedules and thresholds.
type Config struct {
	ReminderSpec   string
	AutoEndSpec    string
	StuckSpec      string
	NoShowSpec     string
	WhiteboardSpec string
	CachePurgeSpec string

	// ReminderMarks are the minutes-before-start at which reminders fire.
	ReminderMarks []time.Duration
	// ReminderTolerance is the width of each firing window. It should match the reminder interval.
	ReminderTolerance time.Duration
	// ReminderLookahead bounds which upcoming sessions the reminder sweep inspects.
	ReminderLookahead time.Duration

	AutoEndGrace     time.Duration
	StuckThreshold   time.Duration
	NoShowGrace      time.Duration
	AbandonThreshold time.Duration

	// JobTimeout bounds one run of any sweep.
	JobTimeout time.Duration
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		ReminderSpec:      "@every 1m",
		AutoEndSpec:       "@every 5m",
		StuckSpec:         "@hourly",
		NoShowSpec:        "@hourly",
		WhiteboardSpec:    "@every 5m",
		CachePurgeSpec:    "@hourly",
		ReminderMarks:     []time.Duration{10 * time.Minute, 5 * time.Minute},
		ReminderTolerance: time.Minute,
		ReminderLookahead: 15 * time.Minute,
		AutoEndGrace:      15 * time.Minute,
		StuckThreshold:    3 * time.Hour,
		NoShowGrace:       30 * time.Minute,
		AbandonThreshold:  30 * time.Minute,
		JobTimeout:        2 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	pickDuration := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}
	c.ReminderSpec = pick(c.ReminderSpec, d.ReminderSpec)
	c.AutoEndSpec = pick(c.AutoEndSpec, d.AutoEndSpec)
	c.StuckSpec = pick(c.StuckSpec, d.StuckSpec)
	c.NoShowSpec = pick(c.NoShowSpec, d.NoShowSpec)
	c.WhiteboardSpec = pick(c.WhiteboardSpec, d.WhiteboardSpec)
	c.CachePurgeSpec = pick(c.CachePurgeSpec, d.CachePurgeSpec)
	if len(c.ReminderMarks) == 0 {
		c.ReminderMarks = d.ReminderMarks
	}
	c.ReminderTolerance = pickDuration(c.ReminderTolerance, d.ReminderTolerance)
	c.ReminderLookahead = pickDuration(c.ReminderLookahead, d.ReminderLookahead)
	c.AutoEndGrace = pickDuration(c.AutoEndGrace, d.AutoEndGrace)
	c.StuckThreshold = pickDuration(c.StuckThreshold, d.StuckThreshold)
	c.NoShowGrace = pickDuration(c.NoShowGrace, d.NoShowGrace)
	c.AbandonThreshold = pickDuration(c.AbandonThreshold, d.AbandonThreshold)
	c.JobTimeout = pickDuration(c.JobTimeout, d.JobTimeout)
	return c
}

// Reconciler owns the cron schedule of every sweep.
type Reconciler struct {
	sessions    SessionEngine
	whiteboards WhiteboardEngine
	notifier    services.Notifier
	marks       cache.Store
	purger      ExpiredPurger
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger
	cfg         Config
}

// Option customises the Reconciler.
type Option func(*Reconciler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithNow overrides the clock used for sweep comparisons.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithConfig overrides schedules and thresholds. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		r.cfg = cfg.withDefaults()
	}
}

// WithWhiteboards enables the abandonment sweep.
func WithWhiteboards(engine WhiteboardEngine) Option {
	return func(r *Reconciler) {
		r.whiteboards = engine
	}
}

// WithNotifier enables the reminder sweep.
func WithNotifier(notifier services.Notifier) Option {
	return func(r *Reconciler) {
		r.notifier = notifier
	}
}

// WithReminderMarks sets the store that remembers which reminders already fired.
func WithReminderMarks(store cache.Store) Option {
	return func(r *Reconciler) {
		r.marks = store
	}
}

// WithPurger enables periodic removal of expired cache entries.
func WithPurger(purger ExpiredPurger) Option {
	return func(r *Reconciler) {
		r.purger = purger
	}
}

// NewReconciler constructs a Reconciler. Sweeps whose dependency is nil are skipped.
func NewReconciler(sessions SessionEngine, opts ...Option) *Reconciler {
	r := &Reconciler{
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithModule("scheduler"),
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cron == nil {
		r.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return r
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) (int, error)
}

func (r *Reconciler) jobs() []job {
	var jobs []job
	if r.sessions != nil {
		if r.notifier != nil {
			jobs = append(jobs, job{JobReminders, r.cfg.ReminderSpec, r.SendReminders})
		}
		jobs = append(jobs,
			job{JobAutoEnd, r.cfg.AutoEndSpec, r.AutoEndOverrun},
			job{JobStuck, r.cfg.StuckSpec, r.RecoverStuck},
			job{JobNoShow, r.cfg.NoShowSpec, r.MarkNoShows},
		)
	}
	if r.whiteboards != nil {
		jobs = append(jobs, job{JobWhiteboard, r.cfg.WhiteboardSpec, r.CloseAbandonedWhiteboards})
	}
	if r.purger != nil {
		jobs = append(jobs, job{JobCachePurge, r.cfg.CachePurgeSpec, r.PurgeCache})
	}
	return jobs
}

// Start registers every enabled sweep and launches the scheduler.
func (r *Reconciler) Start() error {
	jobs := r.jobs()
	if len(jobs) == 0 {
		return nil
	}
	for _, j := range jobs {
		j := j
		if _, err := r.cron.AddFunc(j.spec, func() {
			_ = r.runJob(context.Background(), j)
		}); err != nil {
			return fmt.Errorf("scheduler: register %s: %w", j.name, err)
		}
	}
	r.cron.Start()
	r.log.Info("reconciliation sweeps started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop halts the scheduler. The returned context is done once running sweeps complete.
func (r *Reconciler) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes every enabled sweep sequentially.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs error
	for _, j := range r.jobs() {
		errs = multierr.Append(errs, r.runJob(ctx, j))
	}
	return errs
}

func (r *Reconciler) runJob(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	items, err := j.run(ctx)
	elapsed := time.Since(started)

	if err != nil {
		monitoring.RecordSweep(j.name, "failure", err.Error(), elapsed, items)
		r.log.Warn("sweep failed", zap.String("job", j.name), zap.Int("items", items), zap.Error(err))
		return fmt.Errorf("%s: %w", j.name, err)
	}
	monitoring.RecordSweep(j.name, "success", "", elapsed, items)
	if items > 0 {
		r.log.Info("sweep applied changes", zap.String("job", j.name), zap.Int("items", items))
	}
	return nil
}

// SendReminders notifies participants of upcoming sessions at each reminder mark and when the
// session starts. It returns how many reminders were sent.
func (r *Reconciler) SendReminders(ctx context.Context) (int, error) {
	if r.notifier == nil {
		return 0, nil
	}
	now := r.now()
	from := now.Add(-r.cfg.ReminderTolerance)
	to := now.Add(r.cfg.ReminderLookahead)
	sessions, err := r.sessions.ListSessions(ctx, services.SessionFilter{
		Statuses:      []models.SessionStatus{models.SessionScheduled},
		ScheduledFrom: &from,
		ScheduledTo:   &to,
	})
	if err != nil {
		return 0, err
	}

	claimTTL := r.cfg.ReminderLookahead + 2*r.cfg.ReminderTolerance
	sent := 0
	var errs error
	for i := range sessions {
		session := &sessions[i]
		remaining := session.ScheduledStartTime.Sub(now)

		kind, mark, ok := r.reminderDue(remaining)
		if !ok {
			continue
		}
		notification := reminderNotification(session, kind, mark, now)
		for _, userID := range session.Recipients() {
			claimKey := fmt.Sprintf("reminder:%s:%s:%s", session.ID, mark, userID)
			first, err := cache.Claim(ctx, r.marks, claimKey, claimTTL)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("session %s: claim reminder for %s: %w", session.ID, userID, err))
				continue
			}
			if !first {
				continue
			}
			if err := r.notifier.NotifyUser(ctx, userID, notification); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("session %s: notify %s: %w", session.ID, userID, err))
				// Release the claim so the next sweep inside the window retries this recipient.
				if r.marks != nil {
					if delErr := r.marks.Delete(ctx, claimKey); delErr != nil {
						errs = multierr.Append(errs, fmt.Errorf("session %s: release reminder for %s: %w", session.ID, userID, delErr))
					}
				}
				continue
			}
			sent++
		}
	}
	return sent, errs
}

// reminderDue maps time-to-start onto a firing window. Each mark M fires while the remaining
// time lies in (M-tolerance, M]; the start notice fires in [-tolerance, 0].
func (r *Reconciler) reminderDue(remaining time.Duration) (string, string, bool) {
	tolerance := r.cfg.ReminderTolerance
	if remaining <= 0 && remaining >= -tolerance {
		return services.NotificationSessionStarting, "start", true
	}
	for _, mark := range r.cfg.ReminderMarks {
		if remaining <= mark && remaining > mark-tolerance {
			return services.NotificationSessionReminder, fmt.Sprintf("%dm", int(mark.Minutes())), true
		}
	}
	return "", "", false
}

func reminderNotification(session *models.VideoSession, kind, mark string, now time.Time) services.Notification {
	meta := session.Metadata.Data()
	subject := meta.Subject
	if subject == "" {
		subject = meta.Title
	}
	if subject == "" {
		subject = "Your class"
	}

	n := services.Notification{
		Type:           kind,
		SessionID:      session.ID,
		ClassSessionID: session.ClassSessionID,
		CreatedAt:      now,
		Data: map[string]any{
			"scheduled_start_time": session.ScheduledStartTime,
			"room_name":            session.RoomName,
		},
	}
	if kind == services.NotificationSessionStarting {
		n.Title = "Session starting now"
		n.Message = subject + " is starting now. Join the session."
		return n
	}
	n.Title = "Session starting in " + mark
	n.Message = fmt.Sprintf("%s starts in %s.", subject, mark)
	n.Data["minutes_until_start"] = mark
	return n
}

// AutoEndOverrun completes in-progress sessions that ran past their scheduled end plus grace.
func (r *Reconciler) AutoEndOverrun(ctx context.Context) (int, error) {
	now := r.now()
	// The scheduled start bound is only a prefilter; the end check below is authoritative.
	startedBy := now.Add(-r.cfg.AutoEndGrace)
	sessions, err := r.sessions.ListSessions(ctx, services.SessionFilter{
		Statuses:    []models.SessionStatus{models.SessionInProgress},
		ScheduledTo: &startedBy,
	})
	if err != nil {
		return 0, err
	}

	var candidates []models.VideoSession
	for _, session := range sessions {
		if now.After(session.ScheduledEnd().Add(r.cfg.AutoEndGrace)) {
			candidates = append(candidates, session)
		}
	}
	return r.forEach(ctx, candidates, func(ctx context.Context, session models.VideoSession) (bool, error) {
		return r.sessions.ForceComplete(ctx, session.ID, "auto-ended after scheduled end")
	})
}

// RecoverStuck completes in-progress sessions that started longer ago than the stuck threshold.
func (r *Reconciler) RecoverStuck(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.cfg.StuckThreshold)
	sessions, err := r.sessions.ListSessions(ctx, services.SessionFilter{
		Statuses:      []models.SessionStatus{models.SessionInProgress},
		StartedBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}
	return r.forEach(ctx, sessions, func(ctx context.Context, session models.VideoSession) (bool, error) {
		return r.sessions.ForceComplete(ctx, session.ID, "recovered stuck session")
	})
}

// MarkNoShows marks scheduled sessions nobody joined within the grace period.
func (r *Reconciler) MarkNoShows(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.cfg.NoShowGrace)
	sessions, err := r.sessions.ListSessions(ctx, services.SessionFilter{
		Statuses:    []models.SessionStatus{models.SessionScheduled},
		ScheduledTo: &cutoff,
	})
	if err != nil {
		return 0, err
	}
	return r.forEach(ctx, sessions, func(ctx context.Context, session models.VideoSession) (bool, error) {
		return r.sessions.MarkNoShow(ctx, session.ID)
	})
}

// CloseAbandonedWhiteboards permanently closes rooms disconnected for longer than the threshold.
func (r *Reconciler) CloseAbandonedWhiteboards(ctx context.Context) (int, error) {
	if r.whiteboards == nil {
		return 0, nil
	}
	rooms, err := r.whiteboards.ListAbandoned(ctx, r.now().Add(-r.cfg.AbandonThreshold))
	if err != nil {
		return 0, err
	}

	closed := 0
	var errs error
	for _, room := range rooms {
		if err := ctx.Err(); err != nil {
			return closed, multierr.Append(errs, err)
		}
		if _, err := r.whiteboards.CloseWhiteboard(ctx, room.ClassSessionID, true); err != nil {
			if errors.Is(err, services.ErrWhiteboardNotFound) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("whiteboard %s: %w", room.ClassSessionID, err))
			continue
		}
		closed++
	}
	return closed, errs
}

// PurgeCache drops expired cache entries.
func (r *Reconciler) PurgeCache(ctx context.Context) (int, error) {
	if r.purger == nil {
		return 0, nil
	}
	removed, err := r.purger.PurgeExpired(ctx)
	return int(removed), err
}

// forEach applies fn to every session, isolating failures so one bad row never stops the sweep.
func (r *Reconciler) forEach(ctx context.Context, sessions []models.VideoSession, fn func(context.Context, models.VideoSession) (bool, error)) (int, error) {
	changed := 0
	var errs error
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return changed, multierr.Append(errs, err)
		}
		ok, err := fn(ctx, session)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session %s: %w", session.ID, err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errs
}
