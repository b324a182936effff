// Package generate owns the generation job lifecycle: placeholder creation,
// provider routing, concurrent batch submission, polling of asynchronous
// tasks, durable persistence, and resumption after a restart.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vivagen/internal/domain"
	"vivagen/internal/infra"
	"vivagen/internal/providers"
	"vivagen/internal/providers/image"
	"vivagen/internal/providers/kling"
	"vivagen/internal/providers/video"
)

const (
	labelGenerating    = "generating..."
	labelFailed        = "failed"
	labelNoImage       = "no image"
	labelRequestFailed = "request failed"
)

// Store is the durable persistence surface for asset records. It carries no
// business logic; the dispatcher is the only writer.
type Store interface {
	Put(ctx context.Context, asset domain.Asset) error
	GetAll(ctx context.Context) ([]domain.Asset, error)
	Delete(ctx context.Context, id string) error
}

// ImageSubmitter is the synchronous image adapter surface.
type ImageSubmitter interface {
	Submit(ctx context.Context, req image.SubmitRequest) (providers.Submission, error)
}

// VideoSubmitter is the asynchronous video adapter surface.
type VideoSubmitter interface {
	Submit(ctx context.Context, req video.SubmitRequest) (providers.Submission, error)
	PollerFor(modelID string) providers.TaskPoller
}

// OmniSubmitter is the asynchronous omni-image adapter surface.
type OmniSubmitter interface {
	Submit(ctx context.Context, req kling.SubmitRequest) (providers.Submission, error)
	PollOnce(ctx context.Context, taskID string) (providers.PollResult, error)
}

// Request describes one submission batch.
type Request struct {
	Kind        domain.AssetKind `validate:"required,oneof=image video"`
	ModelID     string           `validate:"required"`
	Prompt      string           `validate:"required"`
	AspectRatio string
	ImageSize   string
	OptionIndex int
	Count       int `validate:"min=1,max=10"`
	References  []domain.ReferenceImage
}

// Options configures a Dispatcher.
type Options struct {
	Store      Store
	Images     ImageSubmitter
	Videos     VideoSubmitter
	Omni       OmniSubmitter
	Credential func() string
	Logger     *infra.Logger

	// Poll cadence overrides, used by tests. Zero means the family default.
	VideoPollInterval time.Duration
	OmniPollInterval  time.Duration
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Dispatcher creates asset records, routes them to the correct protocol
// adapter, and drives each one to a terminal state. It owns every mutation of
// the in-memory collection and the store.
type Dispatcher struct {
	store         Store
	images        ImageSubmitter
	videos        VideoSubmitter
	omni          OmniSubmitter
	credential    func() string
	logger        *infra.Logger
	validate      *validator.Validate
	videoInterval time.Duration
	omniInterval  time.Duration
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	assets       []domain.Asset
	polls        map[string]*pollHandle
	observers    map[int]func(domain.Asset)
	nextObserver int
}

// New constructs a Dispatcher. Store and Credential are required; adapters
// may be nil when a category is not used.
func New(opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("generate: store is required")
	}
	if opts.Credential == nil {
		return nil, errors.New("generate: credential source is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	videoInterval := opts.VideoPollInterval
	if videoInterval <= 0 {
		videoInterval = video.PollInterval
	}
	omniInterval := opts.OmniPollInterval
	if omniInterval <= 0 {
		omniInterval = kling.PollInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:         opts.Store,
		images:        opts.Images,
		videos:        opts.Videos,
		omni:          opts.Omni,
		credential:    opts.Credential,
		logger:        logger,
		validate:      validator.New(),
		videoInterval: videoInterval,
		omniInterval:  omniInterval,
		now:           now,
		ctx:           ctx,
		cancel:        cancel,
		polls:         map[string]*pollHandle{},
		observers:     map[int]func(domain.Asset){},
	}, nil
}

// Close stops every polling loop and in-flight submission.
func (d *Dispatcher) Close() {
	d.cancel()
}

// Assets returns a snapshot of the collection, newest first.
func (d *Dispatcher) Assets() []domain.Asset {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Asset, len(d.assets))
	copy(out, d.assets)
	return out
}

// Subscribe registers an observer called with a copy of every asset that
// changes. The returned function cancels the subscription.
func (d *Dispatcher) Subscribe(fn func(domain.Asset)) func() {
	d.mu.Lock()
	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// Submit validates the request, creates and persists one placeholder per
// variant before any network call, then dispatches all variants concurrently.
// It returns the new asset ids in display order.
func (d *Dispatcher) Submit(ctx context.Context, req Request) ([]string, error) {
	if req.Count == 0 {
		req.Count = 1
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, domain.ErrEmptyPrompt
	}
	if d.credential() == "" {
		return nil, domain.ErrMissingCredential
	}
	if err := d.validate.Struct(req); err != nil {
		if req.Count < 1 || req.Count > 10 {
			return nil, fmt.Errorf("%w: %d", domain.ErrInvalidCount, req.Count)
		}
		return nil, fmt.Errorf("generate: invalid request: %w", err)
	}

	modelName, err := d.resolveModel(req)
	if err != nil {
		return nil, err
	}
	if max := domain.MaxReferenceImages(req.Kind, req.ModelID); len(req.References) > max {
		return nil, fmt.Errorf("%w: model %s accepts at most %d", domain.ErrTooManyReferences, req.ModelID, max)
	}

	started := d.now()
	placeholders := make([]domain.Asset, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		placeholders = append(placeholders, d.newPlaceholder(req, modelName, started))
	}

	// Insert every placeholder, in order, before the first network call so a
	// crash mid-submission still leaves visible persisted records and the
	// initial display order is deterministic.
	d.mu.Lock()
	d.assets = append(append([]domain.Asset{}, placeholders...), d.assets...)
	d.mu.Unlock()
	ids := make([]string, len(placeholders))
	for i, p := range placeholders {
		ids[i] = p.ID
		d.persist(p)
		d.notify(p)
	}

	for _, p := range placeholders {
		go d.submitOne(p)
	}
	return ids, nil
}

func (d *Dispatcher) resolveModel(req Request) (string, error) {
	if req.Kind == domain.AssetKindImage {
		m, ok := domain.ImageModelByID(req.ModelID)
		if !ok {
			return "", fmt.Errorf("%w: %s", domain.ErrUnknownModel, req.ModelID)
		}
		return m.Name, nil
	}
	m, ok := domain.VideoModelByID(req.ModelID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownModel, req.ModelID)
	}
	return m.Name, nil
}

func (d *Dispatcher) newPlaceholder(req Request, modelName string, started time.Time) domain.Asset {
	refs := append([]domain.ReferenceImage{}, req.References...)
	durationText := req.ImageSize
	if req.Kind == domain.AssetKindVideo {
		durationText = fmt.Sprintf("%ds", d.videoSeconds(req))
	}
	return domain.Asset{
		ID:           uuid.NewString(),
		Kind:         req.Kind,
		Status:       domain.StatusLoading,
		Prompt:       req.Prompt,
		ModelID:      req.ModelID,
		ModelName:    modelName,
		DurationText: durationText,
		GenTimeLabel: labelGenerating,
		Timestamp:    started,
		Config: domain.GenerationConfig{
			Kind:            req.Kind,
			ModelID:         req.ModelID,
			Prompt:          req.Prompt,
			AspectRatio:     req.AspectRatio,
			ImageSize:       req.ImageSize,
			OptionIndex:     req.OptionIndex,
			ReferenceImages: refs,
		},
	}
}

func (d *Dispatcher) videoSeconds(req Request) int {
	m, ok := domain.VideoModelByID(req.ModelID)
	if !ok || len(m.Options) == 0 {
		return 0
	}
	idx := req.OptionIndex
	if idx < 0 || idx >= len(m.Options) {
		idx = 0
	}
	return m.Options[idx].Seconds
}

// submitOne routes a single placeholder to its protocol adapter. Each variant
// is fully independent: failure of one never touches its siblings.
func (d *Dispatcher) submitOne(asset domain.Asset) {
	switch {
	case asset.Kind == domain.AssetKindVideo:
		d.submitVideo(asset)
	case asset.ModelID == domain.OmniImageModelID:
		d.submitOmni(asset)
	default:
		d.submitImage(asset)
	}
}

func (d *Dispatcher) submitImage(asset domain.Asset) {
	if d.images == nil {
		d.fail(asset.ID, "image adapter not configured")
		return
	}
	sub, err := d.images.Submit(d.ctx, image.SubmitRequest{
		ModelID:     asset.ModelID,
		Prompt:      asset.Prompt,
		AspectRatio: asset.Config.AspectRatio,
		ImageSize:   asset.Config.ImageSize,
		References:  asset.Config.ReferenceImages,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("asset_id", asset.ID).Msg("generate: image submission failed")
		d.fail(asset.ID, shortReason(err, labelRequestFailed))
		return
	}
	if sub.URL == "" {
		d.fail(asset.ID, labelFailed)
		return
	}
	d.complete(asset.ID, sub.URL, asset.Timestamp)
}

func (d *Dispatcher) submitVideo(asset domain.Asset) {
	if d.videos == nil {
		d.fail(asset.ID, "video adapter not configured")
		return
	}
	sub, err := d.videos.Submit(d.ctx, video.SubmitRequest{
		ModelID:     asset.ModelID,
		Prompt:      asset.Prompt,
		AspectRatio: asset.Config.AspectRatio,
		Seconds:     d.videoSeconds(Request{Kind: asset.Kind, ModelID: asset.ModelID, OptionIndex: asset.Config.OptionIndex}),
		References:  asset.Config.ReferenceImages,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("asset_id", asset.ID).Msg("generate: video submission failed")
		d.fail(asset.ID, shortReason(err, labelRequestFailed))
		return
	}
	d.accept(asset, sub.TaskID, d.videos.PollerFor(asset.ModelID), d.videoInterval)
}

func (d *Dispatcher) submitOmni(asset domain.Asset) {
	if d.omni == nil {
		d.fail(asset.ID, "omni adapter not configured")
		return
	}
	sub, err := d.omni.Submit(d.ctx, kling.SubmitRequest{
		Prompt:      asset.Prompt,
		AspectRatio: asset.Config.AspectRatio,
		Resolution:  asset.Config.ImageSize,
		References:  asset.Config.ReferenceImages,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("asset_id", asset.ID).Msg("generate: omni submission failed")
		d.fail(asset.ID, shortReason(err, labelRequestFailed))
		return
	}
	d.accept(asset, sub.TaskID, d.omni, d.omniInterval)
}

// accept records a successful asynchronous task creation and starts polling.
// The task id is set exactly once and never changed afterward.
func (d *Dispatcher) accept(asset domain.Asset, taskID string, poller providers.TaskPoller, interval time.Duration) {
	if taskID == "" {
		d.fail(asset.ID, "no task id returned")
		return
	}
	d.updateAsset(asset.ID, func(a *domain.Asset) {
		a.Status = domain.StatusQueued
		a.TaskID = taskID
	})
	d.startPolling(asset.ID, taskID, asset.Timestamp, poller, interval)
}

func (d *Dispatcher) complete(assetID, url string, started time.Time) {
	label := fmt.Sprintf("%ds", elapsedSeconds(d.now(), started))
	d.updateAsset(assetID, func(a *domain.Asset) {
		a.Status = domain.StatusCompleted
		a.URL = url
		a.GenTimeLabel = label
	})
}

func (d *Dispatcher) fail(assetID, reason string) {
	d.updateAsset(assetID, func(a *domain.Asset) {
		a.Status = domain.StatusFailed
		a.GenTimeLabel = reason
	})
}

// updateAsset applies a mutation to the owning record, persists it, and
// notifies observers. Terminal assets are never mutated again.
func (d *Dispatcher) updateAsset(id string, mutate func(*domain.Asset)) {
	d.mu.Lock()
	var updated *domain.Asset
	for i := range d.assets {
		if d.assets[i].ID != id {
			continue
		}
		if d.assets[i].Status.Terminal() {
			d.mu.Unlock()
			return
		}
		mutate(&d.assets[i])
		a := d.assets[i]
		updated = &a
		break
	}
	d.mu.Unlock()
	if updated == nil {
		return
	}
	d.persist(*updated)
	d.notify(*updated)
}

// persist writes through to the store. Store failures are logged and the
// in-memory record stays authoritative for the session.
func (d *Dispatcher) persist(asset domain.Asset) {
	if err := d.store.Put(d.ctx, asset); err != nil {
		d.logger.Error().Err(err).Str("asset_id", asset.ID).Msg("generate: persist asset failed")
	}
}

func (d *Dispatcher) notify(asset domain.Asset) {
	d.mu.Lock()
	fns := make([]func(domain.Asset), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(asset)
	}
}

// Refresh resubmits a completed or failed asset from its stored config
// snapshot, producing a brand-new single-variant job.
func (d *Dispatcher) Refresh(ctx context.Context, id string) ([]string, error) {
	d.mu.Lock()
	var found *domain.Asset
	for i := range d.assets {
		if d.assets[i].ID == id {
			a := d.assets[i]
			found = &a
			break
		}
	}
	d.mu.Unlock()
	if found == nil {
		return nil, domain.ErrNotFound
	}
	cfg := found.Config
	if cfg.ModelID == "" {
		return nil, domain.ErrAssetNotRetryable
	}
	return d.Submit(ctx, Request{
		Kind:        cfg.Kind,
		ModelID:     cfg.ModelID,
		Prompt:      cfg.Prompt,
		AspectRatio: cfg.AspectRatio,
		ImageSize:   cfg.ImageSize,
		OptionIndex: cfg.OptionIndex,
		Count:       1,
		References:  cfg.ReferenceImages,
	})
}

// Delete removes the asset from the collection and the store, stopping its
// polling loop when one is active.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	var taskID string
	kept := d.assets[:0]
	found := false
	for _, a := range d.assets {
		if a.ID == id {
			found = true
			taskID = a.TaskID
			continue
		}
		kept = append(kept, a)
	}
	d.assets = kept
	var handle *pollHandle
	if taskID != "" {
		handle = d.polls[taskID]
		delete(d.polls, taskID)
	}
	d.mu.Unlock()
	if !found {
		return domain.ErrNotFound
	}
	if handle != nil {
		handle.stopOnce()
	}
	if err := d.store.Delete(ctx, id); err != nil {
		d.logger.Error().Err(err).Str("asset_id", id).Msg("generate: delete asset failed")
		return err
	}
	return nil
}

// Resume loads the persisted collection and restarts polling for every
// accepted but unfinished task. Loading-status orphans (no confirmed task)
// stay visible without being resumed. Resume is idempotent: a task that is
// already being polled is never given a second loop.
func (d *Dispatcher) Resume(ctx context.Context) error {
	assets, err := d.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("generate: load assets: %w", err)
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Timestamp.After(assets[j].Timestamp)
	})
	d.mu.Lock()
	d.assets = assets
	d.mu.Unlock()

	for _, asset := range assets {
		if !asset.Status.InFlight() || asset.TaskID == "" {
			continue
		}
		poller, interval := d.pollerForAsset(asset)
		if poller == nil {
			d.logger.Warn().Str("asset_id", asset.ID).Str("model", asset.ModelID).Msg("generate: no poller for resumed asset")
			continue
		}
		d.startPolling(asset.ID, asset.TaskID, asset.Timestamp, poller, interval)
	}
	return nil
}

// pollerForAsset re-derives the polling protocol from the asset's model
// family: omni image vs video.
func (d *Dispatcher) pollerForAsset(asset domain.Asset) (providers.TaskPoller, time.Duration) {
	if asset.Kind == domain.AssetKindImage {
		if asset.ModelID != domain.OmniImageModelID || d.omni == nil {
			return nil, 0
		}
		return d.omni, d.omniInterval
	}
	if d.videos == nil {
		return nil, 0
	}
	return d.videos.PollerFor(asset.ModelID), d.videoInterval
}

// Wait blocks until every listed asset reaches a terminal state or the
// context is done.
func (d *Dispatcher) Wait(ctx context.Context, ids []string) error {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	done := make(chan struct{}, 1)
	var mu sync.Mutex
	settle := func(a domain.Asset) {
		mu.Lock()
		if pending[a.ID] && a.Status.Terminal() {
			delete(pending, a.ID)
		}
		empty := len(pending) == 0
		mu.Unlock()
		if empty {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	}
	cancel := d.Subscribe(settle)
	defer cancel()
	for _, a := range d.Assets() {
		settle(a)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func elapsedSeconds(now, started time.Time) int {
	secs := now.Sub(started).Seconds()
	if secs < 0 {
		return 0
	}
	return int(secs + 0.5)
}

// shortReason condenses an error into a display label.
func shortReason(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return fallback
	}
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}
