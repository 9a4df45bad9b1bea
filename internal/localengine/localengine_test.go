package localengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeEngine is an in-memory codec runtime. Exec recognizes the
// thumbnail and segmenting invocations and writes plausible outputs.
type fakeEngine struct {
	mu    sync.Mutex
	files map[string][]byte

	loadCalls   atomic.Int64
	execCalls   atomic.Int64
	totalCalls  atomic.Int64
	loadErr     error
	loadGate    chan struct{}
	execErr     error
	execBlocks  bool
	segments    int
	skipThumb   bool
	skipOutputs bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{files: map[string][]byte{}, segments: 3}
}

func (f *fakeEngine) Load(ctx context.Context) error {
	f.loadCalls.Add(1)
	f.totalCalls.Add(1)
	if f.loadGate != nil {
		select {
		case <-f.loadGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.loadErr
}

func (f *fakeEngine) WriteFile(name string, data []byte) error {
	f.totalCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = data
	return nil
}

func (f *fakeEngine) ReadFile(name string) ([]byte, error) {
	f.totalCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("no such file %s", name)
	}
	return data, nil
}

func (f *fakeEngine) Remove(name string) error {
	f.totalCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return fmt.Errorf("no such file %s", name)
	}
	delete(f.files, name)
	return nil
}

func (f *fakeEngine) List() []string {
	f.totalCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}
	return names
}

func (f *fakeEngine) Exec(ctx context.Context, args []string) error {
	f.execCalls.Add(1)
	f.totalCalls.Add(1)
	if f.execBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.execErr != nil {
		return f.execErr
	}

	var output string
	for i := len(args) - 1; i >= 0; i-- {
		if !strings.HasPrefix(args[i], "-") {
			output = args[i]
			break
		}
	}
	isThumbnail := false
	for _, arg := range args {
		if arg == "-frames:v" {
			isThumbnail = true
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if isThumbnail {
		if !f.skipThumb {
			f.files[output] = []byte("jpeg-bytes")
		}
		return nil
	}
	if f.skipOutputs {
		return nil
	}
	var manifest strings.Builder
	manifest.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	base := strings.TrimSuffix(output, ".m3u8")
	for i := 0; i < f.segments; i++ {
		segName := fmt.Sprintf("%s-%d.ts", base, i)
		f.files[segName] = []byte("segment-bytes")
		manifest.WriteString(fmt.Sprintf("#EXTINF:4.0,\n%s\n", segName))
	}
	manifest.WriteString("#EXT-X-ENDLIST\n")
	f.files[output] = []byte(manifest.String())
	return nil
}

func (f *fakeEngine) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func newTestConverter(engine Engine) *Converter {
	return NewConverter(NewLoader(engine, nil), ConverterConfig{WallClock: time.Second})
}

// TestConvertRejectsOversizeBeforeEngineUse verifies the size cap fires
// before the engine is loaded or its filesystem is touched.
func TestConvertRejectsOversizeBeforeEngineUse(t *testing.T) {
	engine := newFakeEngine()
	converter := newTestConverter(engine)

	input := make([]byte, MaxInputBytes+1)
	_, err := converter.Convert(context.Background(), input, "big.mp4")
	if !IsKind(err, ErrTooLarge) {
		t.Fatalf("expected too-large error, got %v", err)
	}
	if calls := engine.totalCalls.Load(); calls != 0 {
		t.Fatalf("expected zero engine calls, got %d", calls)
	}
}

// TestConvertProducesSegmentsAndCleansUp covers the happy path: manifest,
// segments, thumbnail, duration, and an empty filesystem afterwards.
func TestConvertProducesSegmentsAndCleansUp(t *testing.T) {
	engine := newFakeEngine()
	converter := newTestConverter(engine)

	result, err := converter.Convert(context.Background(), []byte("video-bytes"), "clip.mp4")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(result.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(result.Segments))
	}
	if len(result.Manifest) == 0 || result.ManifestName == "" {
		t.Fatal("expected a manifest")
	}
	if len(result.Thumbnail) == 0 {
		t.Fatal("expected a thumbnail")
	}
	if result.DurationSeconds != 12.0 {
		t.Fatalf("expected 12s duration, got %f", result.DurationSeconds)
	}
	if entries := engine.entryCount(); entries != 0 {
		t.Fatalf("expected empty filesystem after conversion, got %d entries", entries)
	}
}

// TestConvertCleansUpOnEncodeFailure verifies failure paths also leave
// the filesystem empty.
func TestConvertCleansUpOnEncodeFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.execErr = errors.New("encoder crashed")
	converter := newTestConverter(engine)

	_, err := converter.Convert(context.Background(), []byte("video-bytes"), "clip.mp4")
	if !IsKind(err, ErrEncodeFailed) {
		t.Fatalf("expected encode failure, got %v", err)
	}
	if entries := engine.entryCount(); entries != 0 {
		t.Fatalf("expected empty filesystem after failure, got %d entries", entries)
	}
}

// TestConvertNoSegmentsIsEncodeFailure verifies an encode run that emits
// nothing is treated as a failure, not an empty success.
func TestConvertNoSegmentsIsEncodeFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.skipOutputs = true
	converter := newTestConverter(engine)

	_, err := converter.Convert(context.Background(), []byte("video-bytes"), "clip.mp4")
	if !IsKind(err, ErrEncodeFailed) {
		t.Fatalf("expected encode failure, got %v", err)
	}
	if entries := engine.entryCount(); entries != 0 {
		t.Fatalf("expected empty filesystem, got %d entries", entries)
	}
}

// TestConvertThumbnailFailureIsNotFatal verifies a missing poster frame
// does not fail the conversion.
func TestConvertThumbnailFailureIsNotFatal(t *testing.T) {
	engine := newFakeEngine()
	engine.skipThumb = true
	converter := newTestConverter(engine)

	result, err := converter.Convert(context.Background(), []byte("video-bytes"), "clip.mp4")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(result.Thumbnail) != 0 {
		t.Fatal("expected no thumbnail bytes")
	}
	if len(result.Segments) == 0 {
		t.Fatal("expected segments despite missing thumbnail")
	}
}

// TestConvertWallClockMapsToTimeout verifies the caller-enforced ceiling
// surfaces as a timeout error.
func TestConvertWallClockMapsToTimeout(t *testing.T) {
	engine := newFakeEngine()
	engine.execBlocks = true
	converter := NewConverter(NewLoader(engine, nil), ConverterConfig{WallClock: 20 * time.Millisecond})

	_, err := converter.Convert(context.Background(), []byte("video-bytes"), "clip.mp4")
	if !IsKind(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if entries := engine.entryCount(); entries != 0 {
		t.Fatalf("expected empty filesystem after timeout, got %d entries", entries)
	}
}

// TestLoaderSharesInflightLoad verifies concurrent callers share one load
// instead of racing duplicate initializations.
func TestLoaderSharesInflightLoad(t *testing.T) {
	engine := newFakeEngine()
	engine.loadGate = make(chan struct{})
	loader := NewLoader(engine, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = loader.Load(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(engine.loadGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if calls := engine.loadCalls.Load(); calls != 1 {
		t.Fatalf("expected one load call, got %d", calls)
	}
	if loader.State() != StateLoaded {
		t.Fatalf("expected loaded state, got %v", loader.State())
	}
}

// TestLoaderFailureIsSticky verifies a failed load is not retried and
// keeps reporting the original failure.
func TestLoaderFailureIsSticky(t *testing.T) {
	engine := newFakeEngine()
	engine.loadErr = errors.New("runtime missing")
	loader := NewLoader(engine, nil)

	if _, err := loader.Load(context.Background()); !IsKind(err, ErrEngineLoadFailed) {
		t.Fatalf("expected load failure, got %v", err)
	}
	if _, err := loader.Load(context.Background()); !IsKind(err, ErrEngineLoadFailed) {
		t.Fatalf("expected sticky load failure, got %v", err)
	}
	if calls := engine.loadCalls.Load(); calls != 1 {
		t.Fatalf("expected one load attempt, got %d", calls)
	}
	if loader.State() != StateFailed {
		t.Fatalf("expected failed state, got %v", loader.State())
	}
}

// TestLoaderCancelledLoadRetries verifies a caller abort mid-load does
// not poison the shared runtime: the next session with a healthy context
// loads it successfully.
func TestLoaderCancelledLoadRetries(t *testing.T) {
	engine := newFakeEngine()
	engine.loadGate = make(chan struct{})
	loader := NewLoader(engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !IsKind(err, ErrEngineLoadFailed) {
		t.Fatalf("expected load failure for the cancelled caller, got %v", err)
	}
	if state := loader.State(); state != StateUnloaded {
		t.Fatalf("expected unloaded state after cancellation, got %v", state)
	}

	close(engine.loadGate)
	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("retry with healthy context: %v", err)
	}
	if loader.State() != StateLoaded {
		t.Fatalf("expected loaded state after retry, got %v", loader.State())
	}
	if calls := engine.loadCalls.Load(); calls != 2 {
		t.Fatalf("expected two load attempts, got %d", calls)
	}
}

// TestUnavailableEngineDegrades verifies the no-runtime fallback maps to
// a typed load failure through the converter.
func TestUnavailableEngineDegrades(t *testing.T) {
	converter := newTestConverter(Unavailable())
	_, err := converter.Convert(context.Background(), []byte("video-bytes"), "clip.mp4")
	if !IsKind(err, ErrEngineLoadFailed) {
		t.Fatalf("expected engine load failure, got %v", err)
	}
}
