package recorder

import (
	"bufio"
	"encoding/binary"
	"io"
	"iter"
	"os"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	payload   []byte
}

func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next frame, or io.EOF at a clean end of input. The
// payload is only valid until the next call.
func (r *Reader) Next() (Frame, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return Frame{}, io.EOF
		}
		return Frame{}, errors.Wrap(err, "read header")
	}

	f, payloadLen, err := decodeHeader(r.headerBuf)
	if err != nil {
		return Frame{}, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return Frame{}, errors.Wrapf(exception.ErrRecorderTooLarge, "%d bytes", payloadLen)
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return Frame{}, errors.Wrap(err, "read payload")
	}

	var sum [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sum[:]); err != nil {
		return Frame{}, errors.Wrap(err, "read checksum")
	}
	if !r.opts.DisableChecksum && checksum(r.headerBuf, r.payload) != binary.LittleEndian.Uint32(sum[:]) {
		return Frame{}, errors.Wrapf(exception.ErrRecorderChecksum, "seq %d", f.Seq)
	}

	f.Payload = r.payload
	if err := splitSymbol(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Frames iterates the frames of one segment file. The file is opened on the
// first pull and closed when iteration stops, including early breaks. A
// read error is yielded once and ends the sequence.
func Frames(path string, opts ReaderOptions) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		file, err := os.Open(path)
		if err != nil {
			yield(Frame{}, errors.Wrapf(err, "open %s", path))
			return
		}
		defer file.Close()

		r := NewReader(file, opts)
		for {
			f, err := r.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Frame{}, errors.Wrapf(err, "read %s", path))
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}
