package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const maxPayloadLen = uint64(^uint32(0))

// Writer appends frames to segment files from a buffered queue. Appends
// never block the caller; a full queue drops the frame.
type Writer struct {
	cfg   Config
	clock clock.Clock
	ch    chan Frame
	wg    sync.WaitGroup
	err   atomic.Value

	started atomic.Bool
	closed  atomic.Bool
	seq     atomic.Uint64
}

type WriterOption func(*Writer)

func WithClock(c clock.Clock) WriterOption {
	return func(w *Writer) { w.clock = c }
}

// NewWriter creates the target directory and a stopped writer.
func NewWriter(cfg Config, opts ...WriterOption) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", cfg.Dir)
	}
	w := &Writer{
		cfg:   cfg,
		clock: clock.Real(),
		ch:    make(chan Frame, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start runs the writer loop until ctx is done or Close is called.
func (w *Writer) Start(ctx context.Context) error {
	if w.started.Swap(true) {
		return exception.ErrRecorderStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	logs.Infof("recorder: writing %s/%s-*%s", w.cfg.Dir, w.cfg.FilePrefix, segmentSuffix)
	return nil
}

// Close stops the writer after flushing queued frames.
func (w *Writer) Close() error {
	if !w.closed.Swap(true) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error the loop hit. The loop stops on error.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Append queues f. Seq and TsRecv are filled in when zero.
func (w *Writer) Append(f Frame) error {
	if w.closed.Load() {
		return exception.ErrRecorderClosed
	}
	if !w.started.Load() {
		return exception.ErrRecorderNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if len(f.Source) > sourceSize {
		return errors.Wrapf(exception.ErrRecorderSource, "%q", f.Source)
	}
	if len(f.Symbol) > 255 {
		return errors.Wrapf(exception.ErrRecorderSource, "symbol %q", f.Symbol)
	}
	if uint64(len(f.Payload)) > maxPayloadLen {
		return exception.ErrRecorderTooLarge
	}
	if f.Seq == 0 {
		f.Seq = w.seq.Add(1)
	}
	if f.TsRecv == 0 {
		f.TsRecv = w.clock.Now()
	}
	if w.cfg.CopyPayload && len(f.Payload) > 0 {
		f.Payload = append([]byte(nil), f.Payload...)
	}

	select {
	case w.ch <- f:
		return nil
	default:
		return exception.ErrRecorderQueueFull
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		seg         *segment
		segID       uint64
		headerBuf   = make([]byte, recordHeaderSize)
		flushC      <-chan time.Time
		syncC       <-chan time.Time
		flushTicker *time.Ticker
		syncTicker  *time.Ticker
	)

	if w.cfg.FlushInterval > 0 {
		flushTicker = time.NewTicker(w.cfg.FlushInterval)
		flushC = flushTicker.C
	}
	if w.cfg.SyncInterval > 0 {
		syncTicker = time.NewTicker(w.cfg.SyncInterval)
		syncC = syncTicker.C
	}

	defer func() {
		if flushTicker != nil {
			flushTicker.Stop()
		}
		if syncTicker != nil {
			syncTicker.Stop()
		}
		if err := seg.close(); err != nil {
			w.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.drain(&seg, &segID, headerBuf)
			return
		case f, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.write(&seg, &segID, headerBuf, f); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if err := seg.flush(); err != nil {
				w.setErr(err)
				return
			}
		case <-syncC:
			if err := seg.sync(); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

func (w *Writer) drain(seg **segment, segID *uint64, headerBuf []byte) {
	for {
		select {
		case f, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.write(seg, segID, headerBuf, f); err != nil {
				w.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) write(seg **segment, segID *uint64, headerBuf []byte, f Frame) error {
	payload := payloadOf(f)
	now := time.Unix(0, w.clock.Now()).UTC()
	size := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	if w.shouldRotate(*seg, now, size) {
		if err := (*seg).close(); err != nil {
			return err
		}
		opened, err := w.open(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}

	encodeHeader(headerBuf, f, len(payload))
	var sum [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], checksum(headerBuf, payload))

	buf := (*seg).buf
	if _, err := buf.Write(headerBuf); err != nil {
		return err
	}
	if _, err := buf.Write(payload); err != nil {
		return err
	}
	if _, err := buf.Write(sum[:]); err != nil {
		return err
	}
	(*seg).size += size
	return nil
}

func (w *Writer) shouldRotate(seg *segment, now time.Time, next int64) bool {
	if seg == nil {
		return true
	}
	if seg.size+next > w.cfg.SegmentMaxBytes {
		return true
	}
	return w.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration
}

func (w *Writer) open(segID *uint64, now time.Time) (*segment, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, *segID, segmentSuffix)
		file, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "open segment %s", name)
		}
		logs.Debugf("recorder: segment %s", name)
		return &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func (w *Writer) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	logs.Errorf("recorder: writer stopped, err: %+v", err)
	w.err.Store(err)
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

func (s *segment) flush() error {
	if s == nil {
		return nil
	}
	return s.buf.Flush()
}

func (s *segment) sync() error {
	if s == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *segment) close() error {
	if s == nil {
		return nil
	}
	if err := s.sync(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
