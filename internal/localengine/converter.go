package localengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxInputBytes caps conversion inputs; larger files must stay on the
	// remote path.
	MaxInputBytes = 100 << 20

	defaultWallClock = 60 * time.Second

	// segmentProbeLimit bounds the sequential output scan so a corrupt
	// manifest cannot spin the collector forever.
	segmentProbeLimit = 2048
)

// Segment is one emitted media segment.
type Segment struct {
	Name string
	Data []byte
}

// Result carries the converted output. All bytes are copied out of the
// engine's virtual filesystem before cleanup; the names are only labels.
type Result struct {
	ManifestName    string
	Manifest        []byte
	Segments        []Segment
	ThumbnailName   string
	Thumbnail       []byte
	DurationSeconds float64
}

// ConverterConfig tunes the conversion pipeline.
type ConverterConfig struct {
	Logger *slog.Logger

	// WallClock bounds a whole Convert call; defaults to 60s. Independent
	// of any limits inside the engine itself.
	WallClock time.Duration
}

// Converter drives the engine through a fixed downscaled conversion.
type Converter struct {
	loader    *Loader
	logger    *slog.Logger
	wallClock time.Duration
}

// NewConverter builds a converter over a load-once engine.
func NewConverter(loader *Loader, cfg ConverterConfig) *Converter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wallClock := cfg.WallClock
	if wallClock <= 0 {
		wallClock = defaultWallClock
	}
	return &Converter{loader: loader, logger: logger, wallClock: wallClock}
}

// Convert transcodes input into a downscaled baseline segment set. The
// size cap is enforced before the engine is touched, and every virtual
// filesystem entry the call creates is removed before returning, on
// success, failure, and cancellation alike.
func (c *Converter) Convert(ctx context.Context, input []byte, name string) (Result, error) {
	if len(input) > MaxInputBytes {
		return Result{}, &Error{Kind: ErrTooLarge, Err: fmt.Errorf("input is %d bytes, cap is %d", len(input), MaxInputBytes)}
	}
	if len(input) == 0 {
		return Result{}, &Error{Kind: ErrEncodeFailed, Err: errors.New("input is empty")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.wallClock)
	defer cancel()

	engine, err := c.loader.Load(ctx)
	if err != nil {
		return Result{}, err
	}

	run := uuid.NewString()[:8]
	inputName := "in-" + run + ".mp4"
	manifestName := "out-" + run + ".m3u8"
	segmentPattern := "out-" + run + "-%d.ts"
	thumbName := "thumb-" + run + ".jpg"

	created := []string{inputName}
	defer func() {
		c.cleanup(engine, run, created)
	}()

	if err := engine.WriteFile(inputName, input); err != nil {
		return Result{}, c.wrapExec(ctx, fmt.Errorf("stage input: %w", err))
	}

	result := Result{ManifestName: manifestName}

	// Thumbnail extraction is best effort; a missing poster never fails
	// the conversion.
	thumbArgs := []string{
		"-i", inputName,
		"-ss", "1",
		"-frames:v", "1",
		"-vf", "scale=480:-2",
		thumbName,
	}
	if err := engine.Exec(ctx, thumbArgs); err != nil {
		if ctx.Err() != nil {
			return Result{}, c.wrapExec(ctx, err)
		}
		c.logger.Warn("thumbnail extraction failed", "name", name, "error", err)
	} else if data, err := engine.ReadFile(thumbName); err == nil && len(data) > 0 {
		created = append(created, thumbName)
		result.ThumbnailName = thumbName
		result.Thumbnail = data
	}

	// Fixed downscaled ladder rung: baseline 480p, faster preset, higher
	// CRF. Quality is traded for predictable wall-clock cost.
	encodeArgs := []string{
		"-i", inputName,
		"-vf", "scale=-2:480",
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-preset", "veryfast",
		"-crf", "28",
		"-c:a", "aac",
		"-b:a", "96k",
		"-hls_time", "4",
		"-hls_list_size", "0",
		"-hls_segment_filename", "out-" + run + "-%d.ts",
		manifestName,
	}
	if err := engine.Exec(ctx, encodeArgs); err != nil {
		return Result{}, c.wrapExec(ctx, err)
	}

	manifest, err := engine.ReadFile(manifestName)
	if err != nil || len(manifest) == 0 {
		return Result{}, c.wrapExec(ctx, fmt.Errorf("manifest missing after encode: %w", err))
	}
	created = append(created, manifestName)
	result.Manifest = manifest
	result.DurationSeconds = manifestDuration(manifest)

	// Segments are numbered sequentially from zero; collection stops at
	// the first gap or the probe bound.
	for i := 0; i < segmentProbeLimit; i++ {
		segName := fmt.Sprintf(segmentPattern, i)
		data, err := engine.ReadFile(segName)
		if err != nil || len(data) == 0 {
			break
		}
		created = append(created, segName)
		result.Segments = append(result.Segments, Segment{Name: segName, Data: data})
	}
	if len(result.Segments) == 0 {
		return Result{}, &Error{Kind: ErrEncodeFailed, Err: errors.New("encode produced no segments")}
	}

	return result, nil
}

func (c *Converter) wrapExec(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &Error{Kind: ErrTimeout, Err: ctx.Err()}
	}
	return &Error{Kind: ErrEncodeFailed, Err: err}
}

// cleanup removes everything this run touched, plus any stragglers the
// engine lists under the run prefix.
func (c *Converter) cleanup(engine Engine, run string, created []string) {
	for _, name := range created {
		if err := engine.Remove(name); err != nil {
			c.logger.Debug("vfs remove failed", "name", name, "error", err)
		}
	}
	for _, name := range engine.List() {
		if strings.Contains(name, run) {
			_ = engine.Remove(name)
		}
	}
}

// manifestDuration sums the EXTINF entries of an HLS media playlist.
func manifestDuration(manifest []byte) float64 {
	var total float64
	for _, line := range strings.Split(string(manifest), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		value := strings.TrimPrefix(line, "#EXTINF:")
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = value[:idx]
		}
		if seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			total += seconds
		}
	}
	return total
}
