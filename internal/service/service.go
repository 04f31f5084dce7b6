package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/convert"
	"github.com/MimeLyc/webp-autogen/internal/hooks"
	"github.com/MimeLyc/webp-autogen/internal/imaging"
	"github.com/MimeLyc/webp-autogen/internal/jobs"
	"github.com/MimeLyc/webp-autogen/internal/library"
	"github.com/MimeLyc/webp-autogen/internal/persistence"
	"github.com/MimeLyc/webp-autogen/internal/rewrite"
	"github.com/MimeLyc/webp-autogen/pkg/icron"
	"github.com/MimeLyc/webp-autogen/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// RunStore records batch runs. *persistence.SQLiteStore implements it.
type RunStore interface {
	RecordRun(ctx context.Context, run persistence.BatchRun) (int64, error)
	RecentRuns(ctx context.Context, limit int) ([]persistence.BatchRun, error)
}

type Option func(*Service)

func WithQueue(queue *jobs.Queue) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

func WithRunStore(store RunStore) Option {
	return func(s *Service) {
		s.runs = store
	}
}

func WithCron(engine *cron.Cron) Option {
	return func(s *Service) {
		s.cron = engine
	}
}

// Service ties the converter, scanner and rewriter to the configured upload root.
type Service struct {
	cfg      config.Config
	encoder  imaging.Encoder
	scanner  *library.Scanner
	resolver *rewrite.Resolver
	queue    *jobs.Queue
	runs     RunStore
	cron     *cron.Cron

	quality atomic.Int64
	batches singleflight.Group

	mu       sync.Mutex
	cronID   cron.EntryID
	cronExpr string
}

func New(cfg config.Config, settings config.RuntimeSettings, encoder imaging.Encoder, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		encoder:  encoder,
		scanner:  library.NewScanner(cfg.Uploads.Dir, library.WithCacheTTL(2*time.Second)),
		resolver: rewrite.NewResolver(cfg.Uploads.Dir, cfg.Uploads.BaseURL),
		cronExpr: cfg.Convert.CronExpr,
	}
	s.quality.Store(int64(settings.Quality))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() config.Config {
	return s.cfg
}

func (s *Service) Resolver() *rewrite.Resolver {
	return s.resolver
}

func (s *Service) Queue() *jobs.Queue {
	return s.queue
}

func (s *Service) Quality() int {
	return int(s.quality.Load())
}

// ApplyRuntimeSettings takes a saved settings value into use for later conversions.
func (s *Service) ApplyRuntimeSettings(next config.RuntimeSettings) error {
	if err := next.Validate(); err != nil {
		return WrapError(err, ErrValidation, "invalid runtime settings")
	}
	prev := s.quality.Swap(int64(next.Quality))
	if prev != int64(next.Quality) {
		log.Info("WebP quality changed from %d to %d", prev, next.Quality)
	}
	return nil
}

func (s *Service) options() convert.Options {
	return convert.Options{
		Quality: s.Quality(),
		Limit:   s.cfg.Convert.BatchLimit,
		Encoder: s.encoder,
	}
}

func (s *Service) Stats(ctx context.Context) (library.Stats, error) {
	stats, err := s.scanner.Stats(ctx)
	if err != nil {
		return stats, WrapError(err, Classify(err), "scan upload root").WithContext("root", s.cfg.Uploads.Dir)
	}
	return stats, nil
}

// RunBatch runs one bounded batch. Concurrent callers share a single walk.
func (s *Service) RunBatch(ctx context.Context, trigger persistence.Trigger) (convert.BatchResult, error) {
	v, err, shared := s.batches.Do("batch", func() (any, error) {
		return s.runBatch(context.WithoutCancel(ctx), trigger)
	})
	if shared {
		log.Debug("Batch call from %s joined a running batch", trigger)
	}
	res, _ := v.(convert.BatchResult)
	return res, err
}

func (s *Service) runBatch(ctx context.Context, trigger persistence.Trigger) (convert.BatchResult, error) {
	opts := s.options()
	started := time.Now()

	res, err := convert.ConvertBatch(ctx, s.cfg.Uploads.Dir, opts)
	s.scanner.Invalidate()
	if err != nil {
		err = WrapError(err, Classify(err), "batch conversion").WithContext("root", s.cfg.Uploads.Dir)
	}

	if s.runs != nil {
		run := persistence.BatchRun{
			Trigger:    trigger,
			Quality:    opts.Quality,
			Result:     res,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
		if err != nil {
			run.Error = err.Error()
		}
		if _, recErr := s.runs.RecordRun(ctx, run); recErr != nil {
			log.Warn("Failed to record batch run: %v", recErr)
		}
	}
	return res, err
}

// Sweep runs batches until nothing is left or a batch makes no progress.
func (s *Service) Sweep(ctx context.Context, trigger persistence.Trigger) (convert.BatchResult, error) {
	var total convert.BatchResult
	for {
		res, err := s.RunBatch(ctx, trigger)
		total.ConvertedNow += res.ConvertedNow
		total.FailedNow += res.FailedNow
		total.SkippedNow = res.SkippedNow
		total.Total, total.Converted, total.Remaining = res.Total, res.Converted, res.Remaining
		if err != nil {
			return total, err
		}
		if res.Remaining == 0 || res.ConvertedNow == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (s *Service) Runs(ctx context.Context, limit int) ([]persistence.BatchRun, error) {
	if s.runs == nil {
		return []persistence.BatchRun{}, nil
	}
	return s.runs.RecentRuns(ctx, limit)
}

// ConvertUpload is the queue executor for uploaded attachments.
func (s *Service) ConvertUpload(ctx context.Context, job *jobs.ConversionJob) (jobs.Result, error) {
	path, err := s.uploadPath(job.Payload.AttachedFile)
	if err != nil {
		return jobs.Result{}, err
	}
	_, report := convert.ConvertAttachment(ctx, path, job.Payload.Metadata, s.options())
	s.scanner.Invalidate()
	return jobs.Result{
		Converted: len(report.Converted),
		Skipped:   len(report.Skipped),
		Failed:    len(report.Failed),
	}, nil
}

// RegisterHooks attaches the upload, image source and content listeners.
func (s *Service) RegisterHooks(reg *hooks.Registry) error {
	if err := reg.AttachmentMetadata.Add("webp_autogen_create_on_upload", hooks.DefaultPriority, s.onAttachmentMetadata); err != nil {
		return err
	}
	if err := reg.ImageSrc.Add("webp_autogen_filter_image_src", hooks.DefaultPriority, func(_ context.Context, src rewrite.ImageSource) (rewrite.ImageSource, error) {
		return rewrite.ImageSrc(s.resolver, src), nil
	}); err != nil {
		return err
	}
	return reg.Content.Add("webp_autogen_replace_content_images", hooks.DefaultPriority, func(_ context.Context, content string) (string, error) {
		return rewrite.Content(s.resolver, content), nil
	})
}

// onAttachmentMetadata queues the conversion when a queue is attached and
// converts inline otherwise. The attachment always passes through unchanged.
func (s *Service) onAttachmentMetadata(ctx context.Context, att hooks.Attachment) (hooks.Attachment, error) {
	if att.AttachedFile == "" {
		return att, nil
	}
	path, err := s.uploadPath(att.AttachedFile)
	if err != nil {
		LogError(err)
		return att, nil
	}
	if s.queue != nil {
		job, created := s.queue.Enqueue(jobs.EnqueueRequest{
			Source: "upload",
			Payload: jobs.Payload{
				AttachmentID: att.ID,
				AttachedFile: path,
				Metadata:     att.Metadata,
			},
		})
		log.Debug("Upload %s queued as job %s (new: %t)", path, job.ID, created)
		return att, nil
	}

	_, report := convert.ConvertAttachment(ctx, path, att.Metadata, s.options())
	s.scanner.Invalidate()
	log.Info("Upload %s: %d converted, %d skipped, %d failed",
		path, len(report.Converted), len(report.Skipped), len(report.Failed))
	return att, nil
}

// uploadPath resolves an attached file against the upload root. Relative
// paths are taken from the root; anything outside it is rejected.
func (s *Service) uploadPath(attached string) (string, error) {
	root, err := filepath.Abs(s.cfg.Uploads.Dir)
	if err != nil {
		return "", WrapError(err, ErrConfig, "resolve upload root")
	}
	path := filepath.FromSlash(attached)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", NewError(ErrValidation, "attached file is outside the upload root").
			WithContext("path", attached).
			WithContext("root", root)
	}
	return path, nil
}

// Schedule registers the periodic sweep. An empty cron expression disables it.
func (s *Service) Schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, s.cronExpr)
}

// Reschedule replaces the sweep schedule.
func (s *Service) Reschedule(ctx context.Context, expr string) error {
	if expr != "" {
		if _, err := icron.Parse(expr); err != nil {
			return WrapError(err, ErrConfig, "invalid cron expression")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, expr)
}

func (s *Service) scheduleLocked(ctx context.Context, expr string) error {
	if s.cron == nil {
		return fmt.Errorf("cron engine is not configured")
	}
	if s.cronID != 0 {
		s.cron.Remove(s.cronID)
		s.cronID = 0
	}
	s.cronExpr = expr
	if expr == "" {
		log.Info("Periodic sweep disabled")
		return nil
	}

	id, err := s.cron.AddFunc(expr, func() {
		res, err := s.Sweep(ctx, persistence.TriggerCron)
		if err != nil {
			LogError(err)
			return
		}
		log.Info("Scheduled sweep converted %d image(s), %d remaining", res.ConvertedNow, res.Remaining)
	})
	if err != nil {
		return WrapError(err, ErrConfig, "schedule sweep").WithContext("cron", expr)
	}
	s.cronID = id
	log.Info("Periodic sweep scheduled: %s", expr)
	return nil
}

// NextSweep reports when the periodic sweep runs next.
func (s *Service) NextSweep(now time.Time) (time.Time, bool) {
	s.mu.Lock()
	expr := s.cronExpr
	s.mu.Unlock()
	if expr == "" {
		return time.Time{}, false
	}
	info, err := icron.GetTriggerInfo(expr, now)
	if err != nil {
		return time.Time{}, false
	}
	return info.Next, true
}

// StartWorkers starts the upload queue, if any.
func (s *Service) StartWorkers(ctx context.Context) {
	if s.queue != nil {
		s.queue.Start(ctx, s.ConvertUpload)
	}
}

func (s *Service) StopWorkers() {
	if s.queue != nil {
		s.queue.Stop()
	}
}
