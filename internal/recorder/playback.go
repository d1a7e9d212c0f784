package recorder

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

// PlaybackConfig controls replay of a recorded directory.
type PlaybackConfig struct {
	Dir        string `json:"dir"`
	FilePrefix string `json:"file_prefix"`
	// Speed scales the recorded gaps; zero replays as fast as possible.
	Speed           float64 `json:"speed"`
	DisableChecksum bool    `json:"disable_checksum"`
	MaxPayloadSize  int     `json:"max_payload_size"`
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

func (c PlaybackConfig) Validate() error {
	switch {
	case c.Dir == "":
		return errors.Wrap(exception.ErrRecorderConfig, "playback dir is empty")
	case c.Speed < 0:
		return errors.Wrap(exception.ErrRecorderConfig, "speed must be >= 0")
	case c.MaxPayloadSize < 0:
		return errors.Wrap(exception.ErrRecorderConfig, "max_payload_size must be >= 0")
	}
	return nil
}

// Playback replays segment files in name order.
type Playback struct {
	cfg   PlaybackConfig
	clock clock.Clock
}

func NewPlayback(cfg PlaybackConfig, opts ...PlaybackOption) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Playback{cfg: cfg, clock: clock.Real()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type PlaybackOption func(*Playback)

// WithPlaybackClock paces replay on c.
func WithPlaybackClock(c clock.Clock) PlaybackOption {
	return func(p *Playback) { p.clock = c }
}

// Segments lists the segment files of the directory in replay order.
func (p *Playback) Segments() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", p.cfg.Dir)
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Run calls handler for every frame. A handler error stops the replay.
func (p *Playback) Run(ctx context.Context, handler func(Frame) error) error {
	if handler == nil {
		return exception.ErrRecorderNilHandler
	}
	files, err := p.Segments()
	if err != nil {
		return err
	}

	opts := ReaderOptions{DisableChecksum: p.cfg.DisableChecksum, MaxPayloadSize: p.cfg.MaxPayloadSize}
	var prev int64
	var count int
	for _, path := range files {
		for f, err := range Frames(path, opts) {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.pace(ctx, f.TsRecv, &prev); err != nil {
				return err
			}
			if err := handler(f); err != nil {
				return errors.Wrapf(err, "%s seq %d", filepath.Base(path), f.Seq)
			}
			count++
		}
	}
	logs.Infof("recorder: replayed %d frames from %d segments", count, len(files))
	return nil
}

func (p *Playback) pace(ctx context.Context, current int64, prev *int64) error {
	if p.cfg.Speed <= 0 || current <= 0 {
		return nil
	}
	if *prev > 0 && current > *prev {
		wait := time.Duration(float64(current-*prev) / p.cfg.Speed)
		if err := clock.Sleep(ctx, p.clock, wait); err != nil {
			return err
		}
	}
	*prev = current
	return nil
}
