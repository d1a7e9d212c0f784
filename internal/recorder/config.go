package recorder

import (
	"time"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultQueueSize             = 4096
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "frames"
	segmentSuffix                = ".rec"
)

var defaultSegmentMaxDuration = 15 * time.Minute

// Config controls the frame writer.
type Config struct {
	Dir                string        `json:"dir"`
	SegmentMaxBytes    int64         `json:"segment_max_bytes"`
	SegmentMaxDuration time.Duration `json:"segment_max_duration"`
	QueueSize          int           `json:"queue_size"`
	BufferSize         int           `json:"buffer_size"`
	FilePrefix         string        `json:"file_prefix"`
	FlushInterval      time.Duration `json:"flush_interval"`
	SyncInterval       time.Duration `json:"sync_interval"`
	// CopyPayload copies frames on append; set it when the caller reuses
	// read buffers.
	CopyPayload bool `json:"copy_payload"`
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
		FlushInterval:      time.Second,
		CopyPayload:        true,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.Wrap(exception.ErrRecorderConfig, "dir is empty")
	case c.SegmentMaxBytes <= 0:
		return errors.Wrap(exception.ErrRecorderConfig, "segment_max_bytes must be > 0")
	case c.QueueSize <= 0:
		return errors.Wrap(exception.ErrRecorderConfig, "queue_size must be > 0")
	case c.BufferSize <= 0:
		return errors.Wrap(exception.ErrRecorderConfig, "buffer_size must be > 0")
	case c.FilePrefix == "":
		return errors.Wrap(exception.ErrRecorderConfig, "file_prefix is empty")
	case c.FlushInterval < 0 || c.SyncInterval < 0:
		return errors.Wrap(exception.ErrRecorderConfig, "intervals must be >= 0")
	}
	return nil
}
