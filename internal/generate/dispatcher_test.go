package generate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vivagen/internal/domain"
	"vivagen/internal/providers"
	"vivagen/internal/providers/image"
	"vivagen/internal/providers/kling"
	"vivagen/internal/providers/video"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]domain.Asset
}

func newMemStore() *memStore {
	return &memStore{m: map[string]domain.Asset{}}
}

func (s *memStore) Put(_ context.Context, asset domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[asset.ID] = asset
	return nil
}

func (s *memStore) GetAll(_ context.Context) ([]domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Asset, 0, len(s.m))
	for _, a := range s.m {
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *memStore) get(id string) (domain.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[id]
	return a, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

type fakeImages struct {
	fn func(req image.SubmitRequest) (providers.Submission, error)
}

func (f *fakeImages) Submit(_ context.Context, req image.SubmitRequest) (providers.Submission, error) {
	return f.fn(req)
}

type fakeVideos struct {
	fn     func(req video.SubmitRequest) (providers.Submission, error)
	poller providers.TaskPoller
}

func (f *fakeVideos) Submit(_ context.Context, req video.SubmitRequest) (providers.Submission, error) {
	return f.fn(req)
}

func (f *fakeVideos) PollerFor(string) providers.TaskPoller {
	return f.poller
}

type fakeOmni struct {
	fn     func(req kling.SubmitRequest) (providers.Submission, error)
	poller providers.TaskPoller
}

func (f *fakeOmni) Submit(_ context.Context, req kling.SubmitRequest) (providers.Submission, error) {
	return f.fn(req)
}

func (f *fakeOmni) PollOnce(ctx context.Context, taskID string) (providers.PollResult, error) {
	return f.poller.PollOnce(ctx, taskID)
}

// scriptPoller replays a fixed sequence of poll outcomes, repeating the last
// entry once exhausted.
type scriptPoller struct {
	mu     sync.Mutex
	script []func() (providers.PollResult, error)
	calls  int
}

func (p *scriptPoller) PollOnce(context.Context, string) (providers.PollResult, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	step := p.script[idx]
	p.mu.Unlock()
	return step()
}

func (p *scriptPoller) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func running() func() (providers.PollResult, error) {
	return func() (providers.PollResult, error) {
		return providers.PollResult{State: providers.StateRunning}, nil
	}
}

func succeeded(url string) func() (providers.PollResult, error) {
	return func() (providers.PollResult, error) {
		return providers.PollResult{State: providers.StateSucceeded, URL: url}, nil
	}
}

func pollFailed(reason string) func() (providers.PollResult, error) {
	return func() (providers.PollResult, error) {
		return providers.PollResult{State: providers.StateFailed, Reason: reason}, nil
	}
}

func pollError(err error) func() (providers.PollResult, error) {
	return func() (providers.PollResult, error) {
		return providers.PollResult{}, err
	}
}

func testDispatcher(t *testing.T, opts Options) (*Dispatcher, *memStore) {
	t.Helper()
	store := newMemStore()
	if opts.Store == nil {
		opts.Store = store
	} else {
		store = opts.Store.(*memStore)
	}
	if opts.Credential == nil {
		opts.Credential = func() string { return "test-key" }
	}
	if opts.VideoPollInterval == 0 {
		opts.VideoPollInterval = 5 * time.Millisecond
	}
	if opts.OmniPollInterval == 0 {
		opts.OmniPollInterval = 3 * time.Millisecond
	}
	d, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Close)
	return d, store
}

func waitTerminal(t *testing.T, d *Dispatcher, ids []string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx, ids); err != nil {
		t.Fatalf("Wait: %v (assets: %+v)", err, d.Assets())
	}
}

func assetByID(t *testing.T, d *Dispatcher, id string) domain.Asset {
	t.Helper()
	for _, a := range d.Assets() {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("asset %s not found", id)
	return domain.Asset{}
}

func imageRequest(count int) Request {
	return Request{
		Kind:        domain.AssetKindImage,
		ModelID:     "gemini-2.5-flash-image",
		Prompt:      "a red fox",
		AspectRatio: "1:1",
		ImageSize:   "AUTO",
		Count:       count,
	}
}

func videoRequest() Request {
	return Request{
		Kind:        domain.AssetKindVideo,
		ModelID:     "sora-2",
		Prompt:      "a red fox running",
		AspectRatio: "16:9",
		OptionIndex: 1,
		Count:       1,
	}
}

func TestSubmitCreatesPlaceholdersBeforeAnyNetworkCall(t *testing.T) {
	gate := make(chan struct{})
	images := &fakeImages{fn: func(image.SubmitRequest) (providers.Submission, error) {
		<-gate
		return providers.Submission{Kind: providers.SubmissionImmediate, URL: "https://x/a.png"}, nil
	}}
	d, store := testDispatcher(t, Options{Images: images})

	ids, err := d.Submit(context.Background(), imageRequest(3))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("len(ids) = %d, want 3", len(ids))
	}

	// Placeholders must already be in memory and in the store while every
	// network call is still blocked.
	if store.len() != 3 {
		t.Fatalf("store has %d records, want 3", store.len())
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate asset id %s", id)
		}
		seen[id] = true
		a, ok := store.get(id)
		if !ok {
			t.Fatalf("placeholder %s not persisted", id)
		}
		if a.Status != domain.StatusLoading {
			t.Fatalf("placeholder status = %s, want loading", a.Status)
		}
		if a.URL != "" {
			t.Fatalf("placeholder url must be empty")
		}
	}

	// Display order: batch order preserved, newest first overall.
	assets := d.Assets()
	for i, id := range ids {
		if assets[i].ID != id {
			t.Fatalf("display order mismatch at %d", i)
		}
	}

	close(gate)
	waitTerminal(t, d, ids)
}

func TestSubmitValidation(t *testing.T) {
	images := &fakeImages{fn: func(image.SubmitRequest) (providers.Submission, error) {
		t.Fatal("no network call expected")
		return providers.Submission{}, nil
	}}

	cases := []struct {
		name string
		opts Options
		req  Request
		want error
	}{
		{
			name: "empty prompt",
			req: Request{Kind: domain.AssetKindImage, ModelID: "gemini-2.5-flash-image",
				Prompt: "   ", Count: 1},
			want: domain.ErrEmptyPrompt,
		},
		{
			name: "missing credential",
			opts: Options{Credential: func() string { return "" }},
			req:  imageRequest(1),
			want: domain.ErrMissingCredential,
		},
		{
			name: "unknown model",
			req: Request{Kind: domain.AssetKindImage, ModelID: "no-such-model",
				Prompt: "x", Count: 1},
			want: domain.ErrUnknownModel,
		},
		{
			name: "count too large",
			req: Request{Kind: domain.AssetKindImage, ModelID: "gemini-2.5-flash-image",
				Prompt: "x", Count: 11},
			want: domain.ErrInvalidCount,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.opts
			opts.Images = images
			d, store := testDispatcher(t, opts)
			if _, err := d.Submit(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("Submit err = %v, want %v", err, tc.want)
			}
			if store.len() != 0 {
				t.Fatalf("no asset must be created on validation failure")
			}
			if len(d.Assets()) != 0 {
				t.Fatalf("in-memory collection must stay empty")
			}
		})
	}
}

func TestSubmitRejectsTooManyReferenceImages(t *testing.T) {
	d, store := testDispatcher(t, Options{Images: &fakeImages{fn: func(image.SubmitRequest) (providers.Submission, error) {
		t.Fatal("no network call expected")
		return providers.Submission{}, nil
	}}})

	req := imageRequest(1)
	for i := 0; i < 5; i++ { // gemini-2.5-flash-image caps at 4
		req.References = append(req.References, domain.ReferenceImage{URL: fmt.Sprintf("https://x/%d.png", i)})
	}
	if _, err := d.Submit(context.Background(), req); !errors.Is(err, domain.ErrTooManyReferences) {
		t.Fatalf("Submit err = %v, want ErrTooManyReferences", err)
	}
	if store.len() != 0 {
		t.Fatalf("no asset must be created")
	}

	// Dropping below the limit clears the condition.
	req.References = req.References[:4]
	ids, err := d.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit after trimming refs: %v", err)
	}
	waitTerminal(t, d, ids)
}

func TestSyncImageBatchOutcomesAreIndependent(t *testing.T) {
	var mu sync.Mutex
	call := 0
	images := &fakeImages{fn: func(image.SubmitRequest) (providers.Submission, error) {
		mu.Lock()
		call++
		n := call
		mu.Unlock()
		if n == 2 {
			// Malformed payload: nothing extractable.
			return providers.Submission{Kind: providers.SubmissionImmediate, URL: ""}, nil
		}
		return providers.Submission{Kind: providers.SubmissionImmediate, URL: fmt.Sprintf("https://x/%d.png", n)}, nil
	}}
	d, store := testDispatcher(t, Options{Images: images})

	ids, err := d.Submit(context.Background(), imageRequest(3))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)

	var completed, failed int
	urls := map[string]bool{}
	for _, id := range ids {
		a := assetByID(t, d, id)
		switch a.Status {
		case domain.StatusCompleted:
			completed++
			if a.URL == "" || urls[a.URL] {
				t.Fatalf("completed asset must carry a distinct url, got %q", a.URL)
			}
			urls[a.URL] = true
		case domain.StatusFailed:
			failed++
			if a.URL != "" {
				t.Fatalf("failed asset must not carry a url")
			}
		default:
			t.Fatalf("asset %s not terminal: %s", id, a.Status)
		}
		stored, ok := store.get(id)
		if !ok || stored.Status != a.Status {
			t.Fatalf("store out of sync for %s", id)
		}
	}
	if completed != 2 || failed != 1 {
		t.Fatalf("completed=%d failed=%d, want 2/1", completed, failed)
	}
}

func TestVideoJobQueuedPollingCompleted(t *testing.T) {
	poller := &scriptPoller{script: []func() (providers.PollResult, error){
		running(), running(), succeeded("https://cdn/x.mp4"),
	}}
	videos := &fakeVideos{
		fn: func(req video.SubmitRequest) (providers.Submission, error) {
			if req.Seconds != 15 {
				t.Errorf("Seconds = %d, want 15", req.Seconds)
			}
			return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: "t1"}, nil
		},
		poller: poller,
	}
	d, store := testDispatcher(t, Options{Videos: videos})

	var mu sync.Mutex
	var statuses []domain.AssetStatus
	cancel := d.Subscribe(func(a domain.Asset) {
		mu.Lock()
		statuses = append(statuses, a.Status)
		mu.Unlock()
	})
	defer cancel()

	ids, err := d.Submit(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)

	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusCompleted || a.URL != "https://cdn/x.mp4" {
		t.Fatalf("asset = %+v, want completed with url", a)
	}
	if a.TaskID != "t1" {
		t.Fatalf("taskID = %q, want t1", a.TaskID)
	}
	if a.GenTimeLabel == "" || a.GenTimeLabel == labelGenerating {
		t.Fatalf("genTimeLabel = %q, want elapsed seconds", a.GenTimeLabel)
	}
	if poller.callCount() != 3 {
		t.Fatalf("poll calls = %d, want 3", poller.callCount())
	}

	mu.Lock()
	got := append([]domain.AssetStatus{}, statuses...)
	mu.Unlock()
	want := []domain.AssetStatus{domain.StatusLoading, domain.StatusQueued, domain.StatusCompleted}
	if len(got) != len(want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status sequence = %v, want %v", got, want)
		}
	}

	// Idempotent termination: the poll loop is gone.
	waitPollGone(t, d, "t1")
	stored, _ := store.get(ids[0])
	if stored.Status != domain.StatusCompleted || stored.URL == "" {
		t.Fatalf("stored asset = %+v, want completed with url", stored)
	}
}

func waitPollGone(t *testing.T, d *Dispatcher, taskID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !d.pollingTask(taskID) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("poll loop for %s still registered", taskID)
}

func TestPollTransientErrorKeepsPolling(t *testing.T) {
	poller := &scriptPoller{script: []func() (providers.PollResult, error){
		pollError(errors.New("connection reset")),
		pollError(errors.New("timeout")),
		succeeded("https://cdn/y.mp4"),
	}}
	videos := &fakeVideos{
		fn: func(video.SubmitRequest) (providers.Submission, error) {
			return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: "t2"}, nil
		},
		poller: poller,
	}
	d, _ := testDispatcher(t, Options{Videos: videos})

	ids, err := d.Submit(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)
	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed despite transient errors", a.Status)
	}
	if poller.callCount() < 3 {
		t.Fatalf("poll calls = %d, want >= 3", poller.callCount())
	}
}

func TestPollSucceededWithoutURLFailsHard(t *testing.T) {
	videos := &fakeVideos{
		fn: func(video.SubmitRequest) (providers.Submission, error) {
			return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: "t3"}, nil
		},
		poller: &scriptPoller{script: []func() (providers.PollResult, error){succeeded("")}},
	}
	d, _ := testDispatcher(t, Options{Videos: videos})

	ids, err := d.Submit(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)
	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", a.Status)
	}
	if a.URL != "" {
		t.Fatalf("failed asset must not carry a url")
	}
}

func TestPollFailureCarriesProviderReason(t *testing.T) {
	videos := &fakeVideos{
		fn: func(video.SubmitRequest) (providers.Submission, error) {
			return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: "t4"}, nil
		},
		poller: &scriptPoller{script: []func() (providers.PollResult, error){pollFailed("content rejected")}},
	}
	d, _ := testDispatcher(t, Options{Videos: videos})

	ids, err := d.Submit(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)
	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusFailed || a.GenTimeLabel != "content rejected" {
		t.Fatalf("asset = %+v, want failed with provider reason", a)
	}
}

func TestAsyncSubmissionFailureMarksAssetFailedWithoutPolling(t *testing.T) {
	videos := &fakeVideos{
		fn: func(video.SubmitRequest) (providers.Submission, error) {
			return providers.Submission{}, errors.New("video: quota exhausted")
		},
		poller: &scriptPoller{script: []func() (providers.PollResult, error){succeeded("https://never")}},
	}
	d, _ := testDispatcher(t, Options{Videos: videos})

	ids, err := d.Submit(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)
	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", a.Status)
	}
	if a.TaskID != "" {
		t.Fatalf("taskID must stay empty on submission failure")
	}
	if d.activePolls() != 0 {
		t.Fatalf("no poll loop must start on submission failure")
	}
}

func TestCredentialLossPausesPollingWithoutFailingAsset(t *testing.T) {
	var mu sync.Mutex
	key := "test-key"
	videos := &fakeVideos{
		fn: func(video.SubmitRequest) (providers.Submission, error) {
			return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: "t5"}, nil
		},
		poller: &scriptPoller{script: []func() (providers.PollResult, error){running()}},
	}
	d, _ := testDispatcher(t, Options{
		Videos: videos,
		Credential: func() string {
			mu.Lock()
			defer mu.Unlock()
			return key
		},
	})

	ids, err := d.Submit(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Let at least one running poll happen, then drop the credential.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if assetByID(t, d, ids[0]).Status == domain.StatusQueued {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	key = ""
	mu.Unlock()

	waitPollGone(t, d, "t5")
	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued (credential loss never fails the job)", a.Status)
	}
}

func TestResumeRestartsExactlyOnePollPerTask(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	queued := domain.Asset{
		ID: "v1", Kind: domain.AssetKindVideo, Status: domain.StatusQueued,
		ModelID: "sora-2", TaskID: "t-old", Timestamp: now.Add(-time.Minute),
		Config: domain.GenerationConfig{Kind: domain.AssetKindVideo, ModelID: "sora-2", Prompt: "p"},
	}
	orphan := domain.Asset{
		ID: "v2", Kind: domain.AssetKindVideo, Status: domain.StatusLoading,
		ModelID: "sora-2", Timestamp: now.Add(-2 * time.Minute),
	}
	newest := domain.Asset{
		ID: "v3", Kind: domain.AssetKindImage, Status: domain.StatusCompleted,
		ModelID: "gemini-2.5-flash-image", URL: "https://x/a.png", Timestamp: now,
	}
	for _, a := range []domain.Asset{queued, orphan, newest} {
		if err := store.Put(context.Background(), a); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	videos := &fakeVideos{
		fn: func(video.SubmitRequest) (providers.Submission, error) {
			t.Fatal("resume must not resubmit")
			return providers.Submission{}, nil
		},
		poller: &scriptPoller{script: []func() (providers.PollResult, error){running()}},
	}
	d, _ := testDispatcher(t, Options{Store: store, Videos: videos})

	if err := d.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// A second resume before the provider answers must not double-poll.
	if err := d.Resume(context.Background()); err != nil {
		t.Fatalf("second Resume: %v", err)
	}
	if got := d.activePolls(); got != 1 {
		t.Fatalf("active polls = %d, want exactly 1", got)
	}
	if !d.pollingTask("t-old") {
		t.Fatalf("resumed task must be polling")
	}

	assets := d.Assets()
	if len(assets) != 3 {
		t.Fatalf("len(assets) = %d, want 3", len(assets))
	}
	if assets[0].ID != "v3" || assets[1].ID != "v1" || assets[2].ID != "v2" {
		t.Fatalf("assets not sorted newest-first: %s %s %s", assets[0].ID, assets[1].ID, assets[2].ID)
	}
	if assetByID(t, d, "v2").Status != domain.StatusLoading {
		t.Fatalf("loading orphan must stay loading")
	}
}

func TestResumedJobCompletesWithElapsedTimeFromOriginalTimestamp(t *testing.T) {
	store := newMemStore()
	started := time.Now().Add(-90 * time.Second)
	if err := store.Put(context.Background(), domain.Asset{
		ID: "v1", Kind: domain.AssetKindVideo, Status: domain.StatusProcessing,
		ModelID: "veo_3_1-fast", TaskID: "t-vid", Timestamp: started,
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	videos := &fakeVideos{
		fn:     func(video.SubmitRequest) (providers.Submission, error) { panic("unused") },
		poller: &scriptPoller{script: []func() (providers.PollResult, error){succeeded("https://cdn/v.mp4")}},
	}
	d, _ := testDispatcher(t, Options{Store: store, Videos: videos})

	if err := d.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitTerminal(t, d, []string{"v1"})
	a := assetByID(t, d, "v1")
	if a.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", a.Status)
	}
	// Elapsed time is computed against the original submission timestamp.
	if a.GenTimeLabel != "90s" && a.GenTimeLabel != "91s" {
		t.Fatalf("genTimeLabel = %q, want ~90s", a.GenTimeLabel)
	}
}

func TestRefreshProducesBrandNewAsset(t *testing.T) {
	images := &fakeImages{fn: func(image.SubmitRequest) (providers.Submission, error) {
		return providers.Submission{Kind: providers.SubmissionImmediate, URL: "https://x/new.png"}, nil
	}}
	d, _ := testDispatcher(t, Options{Images: images})

	ids, err := d.Submit(context.Background(), imageRequest(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)
	original := assetByID(t, d, ids[0])

	newIDs, err := d.Refresh(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(newIDs) != 1 || newIDs[0] == ids[0] {
		t.Fatalf("refresh must create one brand-new asset, got %v", newIDs)
	}
	waitTerminal(t, d, newIDs)

	refreshed := assetByID(t, d, newIDs[0])
	if refreshed.Prompt != original.Prompt || refreshed.ModelID != original.ModelID {
		t.Fatalf("refresh must reuse the config snapshot")
	}
	// The original record is untouched.
	if got := assetByID(t, d, ids[0]); got.URL != original.URL || got.Status != original.Status {
		t.Fatalf("original asset mutated by refresh")
	}
}

func TestDeleteStopsPollingAndRemovesRecord(t *testing.T) {
	videos := &fakeVideos{
		fn: func(video.SubmitRequest) (providers.Submission, error) {
			return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: "t6"}, nil
		},
		poller: &scriptPoller{script: []func() (providers.PollResult, error){running()}},
	}
	d, store := testDispatcher(t, Options{Videos: videos})

	ids, err := d.Submit(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if assetByID(t, d, ids[0]).Status == domain.StatusQueued {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := d.Delete(context.Background(), ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitPollGone(t, d, "t6")
	if store.len() != 0 {
		t.Fatalf("store record must be removed")
	}
	if len(d.Assets()) != 0 {
		t.Fatalf("in-memory record must be removed")
	}
	if err := d.Delete(context.Background(), ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestTerminalStatusNeverReverts(t *testing.T) {
	images := &fakeImages{fn: func(image.SubmitRequest) (providers.Submission, error) {
		return providers.Submission{Kind: providers.SubmissionImmediate, URL: "https://x/a.png"}, nil
	}}
	d, _ := testDispatcher(t, Options{Images: images})

	ids, err := d.Submit(context.Background(), imageRequest(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)

	d.fail(ids[0], "late failure")
	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusCompleted || a.URL != "https://x/a.png" {
		t.Fatalf("terminal asset reverted: %+v", a)
	}
}

func TestOmniImageRoutesThroughAsyncAdapter(t *testing.T) {
	omni := &fakeOmni{
		fn: func(req kling.SubmitRequest) (providers.Submission, error) {
			if req.Resolution != "2K" {
				t.Errorf("Resolution = %q, want 2K", req.Resolution)
			}
			return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: "k1"}, nil
		},
		poller: &scriptPoller{script: []func() (providers.PollResult, error){
			running(), succeeded("https://cdn/omni.png"),
		}},
	}
	images := &fakeImages{fn: func(image.SubmitRequest) (providers.Submission, error) {
		t.Fatal("omni model must not hit the synchronous adapter")
		return providers.Submission{}, nil
	}}
	d, _ := testDispatcher(t, Options{Images: images, Omni: omni})

	ids, err := d.Submit(context.Background(), Request{
		Kind:        domain.AssetKindImage,
		ModelID:     domain.OmniImageModelID,
		Prompt:      "a fox",
		AspectRatio: "1:1",
		ImageSize:   "2K",
		Count:       1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, d, ids)
	a := assetByID(t, d, ids[0])
	if a.Status != domain.StatusCompleted || a.URL != "https://cdn/omni.png" {
		t.Fatalf("asset = %+v, want completed omni result", a)
	}
	if a.TaskID != "k1" {
		t.Fatalf("taskID = %q, want k1", a.TaskID)
	}
}
