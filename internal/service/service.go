package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"riskgate/internal/alerting"
	"riskgate/internal/gate"
	"riskgate/internal/metrics"
	"riskgate/internal/risk"
	"riskgate/internal/scheduler"
	"riskgate/internal/storage"
)

const (
	recordTimeout     = 5 * time.Second
	defaultQueueSize  = 256
	assessmentMemoTTL = 15 * time.Minute
)

// CacheSweeper drops expired cached results.
type CacheSweeper interface {
	Sweep() int
}

// Options tune auditing, alerting, and maintenance. QueueSize bounds gate
// outcomes waiting to be recorded.
type Options struct {
	Retention time.Duration
	LockKey   int64
	AlertsOn  bool
	Channels  []string
	QueueSize int
	Now       func() time.Time
}

// Deps are the collaborators; any store may be nil when no database is configured.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Cache       CacheSweeper
	Assessments storage.AssessmentStore
	Decisions   storage.GateDecisionStore
	Notifier    alerting.Notifier
}

// Service records gate outcomes, raises alerts, and runs periodic maintenance.
type Service struct {
	scheduler   *scheduler.Scheduler
	cache       CacheSweeper
	assessments storage.AssessmentStore
	decisions   storage.GateDecisionStore
	notifier    alerting.Notifier
	locker      storage.AdvisoryLocker
	logger      zerolog.Logger

	retention time.Duration
	lockKey   int64
	alertsOn  bool
	channels  []string
	now       func() time.Time

	outcomes chan outcomeJob

	memoMu sync.Mutex
	memo   map[string]recordedAssessment
}

type outcomeJob struct {
	req gate.Request
	out gate.Outcome
}

// recordedAssessment remembers the last persisted result per subject so a
// cached result is not written twice.
type recordedAssessment struct {
	fetchedAt time.Time
	id        uuid.UUID
}

// New constructs the service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Assessments.(storage.AdvisoryLocker); ok {
		locker = l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	return &Service{
		scheduler:   deps.Scheduler,
		cache:       deps.Cache,
		assessments: deps.Assessments,
		decisions:   deps.Decisions,
		notifier:    deps.Notifier,
		locker:      locker,
		logger:      logger.With().Str("component", "service").Logger(),
		retention:   opts.Retention,
		lockKey:     opts.LockKey,
		alertsOn:    opts.AlertsOn,
		channels:    opts.Channels,
		now:         now,
		outcomes:    make(chan outcomeJob, opts.QueueSize),
		memo:        make(map[string]recordedAssessment),
	}
}

// Run records queued gate outcomes and runs the maintenance loop until ctx is
// cancelled. Outcomes still queued at that point are flushed before it returns.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.recordLoop(ctx)
	}()

	err := s.scheduler.Run(ctx, s.Maintain)
	<-done
	return err
}

func (s *Service) recordLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case job := <-s.outcomes:
			s.recordOutcome(job)
		}
	}
}

// Flush records every queued outcome synchronously and reports how many it handled.
func (s *Service) Flush() int {
	n := 0
	for {
		select {
		case job := <-s.outcomes:
			s.recordOutcome(job)
			n++
		default:
			return n
		}
	}
}

// RecordAssessment persists one scoring pass. It is a no-op without storage.
// A result already recorded for the same subject and fetch time returns the
// existing id.
func (s *Service) RecordAssessment(ctx context.Context, res risk.Result) (*uuid.UUID, error) {
	if s.assessments == nil {
		return nil, nil
	}
	if id, ok := s.recalled(res); ok {
		return &id, nil
	}
	rec, err := toAssessmentRecord(res)
	if err != nil {
		return nil, err
	}
	saved, err := s.assessments.InsertAssessment(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record assessment: %w", err)
	}
	s.remember(res, saved.ID)
	return &saved.ID, nil
}

func (s *Service) recalled(res risk.Result) (uuid.UUID, bool) {
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	prev, ok := s.memo[res.SubjectID]
	if !ok || !prev.fetchedAt.Equal(res.FetchedAt) {
		return uuid.UUID{}, false
	}
	return prev.id, true
}

func (s *Service) remember(res risk.Result, id uuid.UUID) {
	s.memoMu.Lock()
	s.memo[res.SubjectID] = recordedAssessment{fetchedAt: res.FetchedAt, id: id}
	s.memoMu.Unlock()
}

func (s *Service) forgetAssessmentsBefore(cutoff time.Time) {
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	for subject, prev := range s.memo {
		if prev.fetchedAt.Before(cutoff) {
			delete(s.memo, subject)
		}
	}
}

// RecordOutcome queues a gate outcome for auditing and alerting and returns
// without waiting. Outcomes are dropped, with a warning, when the queue is full.
func (s *Service) RecordOutcome(_ context.Context, req *gate.Request, out gate.Outcome) {
	select {
	case s.outcomes <- outcomeJob{req: *req, out: out}:
	default:
		metrics.AuditDropped.Inc()
		s.logger.Warn().Str("chain", out.Chain).Str("mint", req.Mint).Msg("audit queue full; outcome dropped")
	}
}

func (s *Service) recordOutcome(job outcomeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	req, out := &job.req, job.out

	var assessmentID *uuid.UUID
	if req.Risk != nil {
		id, err := s.RecordAssessment(ctx, *req.Risk)
		if err != nil {
			s.logger.Error().Err(err).Str("mint", req.Mint).Msg("failed to persist assessment")
		}
		assessmentID = id
	}

	if s.decisions != nil {
		rec := toDecisionRecord(req, out, assessmentID)
		if _, err := s.decisions.InsertGateDecision(ctx, rec); err != nil {
			s.logger.Error().Err(err).Str("chain", out.Chain).Msg("failed to persist gate decision")
		}
	}

	if s.shouldAlert(req, out) {
		if err := s.NotifyDenial(ctx, req, out); err != nil {
			s.logger.Error().Err(err).Str("mint", req.Mint).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) shouldAlert(req *gate.Request, out gate.Outcome) bool {
	if !s.alertsOn || s.notifier == nil || out.Allowed || req.Risk == nil {
		return false
	}
	return out.Decision.Code == gate.CodeCriticalRisk
}

// NotifyDenial sends an alert for a denied request carrying a risk result.
func (s *Service) NotifyDenial(ctx context.Context, req *gate.Request, out gate.Outcome) error {
	if s.notifier == nil {
		return errors.New("no alert notifier configured")
	}
	res := req.Risk
	if res == nil {
		return errors.New("denial carries no risk result")
	}
	note := alerting.Notification{
		Mint:     req.Mint,
		Wallet:   req.Wallet,
		Chain:    out.Chain,
		Code:     out.Decision.Code,
		Message:  out.Decision.Message,
		Score:    res.Score,
		Label:    string(res.Label),
		Reasons:  res.Reasons,
		Channels: s.channels,
		At:       s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Maintain sweeps the risk cache and prunes audit rows past retention.
func (s *Service) Maintain(ctx context.Context, at time.Time) error {
	s.forgetAssessmentsBefore(at.Add(-assessmentMemoTTL))
	if s.cache != nil {
		swept := s.cache.Sweep()
		s.logger.Debug().Int("swept", swept).Time("at", at).Msg("risk cache swept")
	}

	if s.retention <= 0 || (s.assessments == nil && s.decisions == nil) {
		metrics.MaintenanceRuns.WithLabelValues("ok").Inc()
		return nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		metrics.MaintenanceRuns.WithLabelValues("error").Inc()
		return err
	}
	if !proceed {
		metrics.MaintenanceRuns.WithLabelValues("skipped").Inc()
		s.logger.Debug().Time("at", at).Msg("skip pruning because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	cutoff := at.Add(-s.retention)
	if err := s.prune(ctx, cutoff); err != nil {
		metrics.MaintenanceRuns.WithLabelValues("error").Inc()
		return err
	}
	metrics.MaintenanceRuns.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) prune(ctx context.Context, cutoff time.Time) error {
	var decisions, assessments int64
	if s.decisions != nil {
		n, err := s.decisions.DeleteGateDecisionsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune gate decisions: %w", err)
		}
		decisions = n
	}
	if s.assessments != nil {
		n, err := s.assessments.DeleteAssessmentsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune assessments: %w", err)
		}
		assessments = n
	}
	if decisions > 0 || assessments > 0 {
		s.logger.Info().Time("cutoff", cutoff).
			Int64("decisions", decisions).
			Int64("assessments", assessments).
			Msg("audit rows pruned")
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func toAssessmentRecord(res risk.Result) (storage.AssessmentRecord, error) {
	factors, err := json.Marshal(res.Factors)
	if err != nil {
		return storage.AssessmentRecord{}, fmt.Errorf("encode factors: %w", err)
	}
	critical := make([]string, len(res.Critical))
	for i, code := range res.Critical {
		critical[i] = string(code)
	}
	return storage.AssessmentRecord{
		SubjectID: res.SubjectID,
		Score:     res.Score,
		Label:     string(res.Label),
		Reasons:   res.Reasons,
		Critical:  critical,
		Factors:   factors,
		FetchedAt: res.FetchedAt,
	}, nil
}

func toDecisionRecord(req *gate.Request, out gate.Outcome, assessmentID *uuid.UUID) storage.GateDecisionRecord {
	trail, err := json.Marshal(out.Trail)
	if err != nil {
		trail = []byte("[]")
	}
	return storage.GateDecisionRecord{
		Chain:        out.Chain,
		SubjectID:    req.Mint,
		Wallet:       req.Wallet,
		Allowed:      out.Allowed,
		DecidedBy:    out.DecidedBy,
		Code:         out.Decision.Code,
		Message:      out.Decision.Message,
		Status:       out.Decision.Status,
		Trail:        trail,
		AssessmentID: assessmentID,
	}
}
