package fix

import (
	"strconv"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const sendingTimeLayout = "20060102-15:04:05.000"

type Config struct {
	BeginString  string        `json:"begin_string"`
	SenderCompID string        `json:"sender_comp_id"`
	TargetCompID string        `json:"target_comp_id"`
	Heartbeat    time.Duration `json:"heartbeat"`
	Account      string        `json:"account"`
	Venue        model.Venue   `json:"venue"`
}

// Session is one initiator side FIX session. Outbound messages are
// numbered from 1; inbound gaps produce a ResendRequest. A Session
// implements decode.Decoder and is not safe for concurrent use.
type Session struct {
	cfg         Config
	instruments *decode.Instruments
	clock       clock.Clock
	outSeq      uint64
	inSeq       uint64
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

func NewSession(cfg Config, instruments *decode.Instruments, opts ...Option) *Session {
	if cfg.BeginString == "" {
		cfg.BeginString = "FIX.4.4"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	s := &Session{
		cfg:         cfg,
		instruments: instruments,
		clock:       clock.Real(),
		outSeq:      1,
		inSeq:       1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextOutbound and NextInbound expose the sequence state.
func (s *Session) NextOutbound() uint64 { return s.outSeq }
func (s *Session) NextInbound() uint64  { return s.inSeq }

// Reset restarts both sequences, as after a logon with ResetSeqNumFlag.
func (s *Session) Reset() {
	s.outSeq, s.inSeq = 1, 1
}

// Stamp fills the header of m and consumes one outbound sequence number.
func (s *Session) Stamp(m *Message) *Message {
	m.BeginString = s.cfg.BeginString
	m.SenderCompID = s.cfg.SenderCompID
	m.TargetCompID = s.cfg.TargetCompID
	m.MsgSeqNum = s.outSeq
	m.SendingTime = time.Unix(0, s.clock.Now()).UTC().Format(sendingTimeLayout)
	s.outSeq++
	return m
}

// Logon encodes a logon request.
func (s *Session) Logon(reset bool) []byte {
	if reset {
		s.Reset()
	}
	m := NewMessage(MsgLogon).
		Set(TagEncryptMethod, "0").
		Set(TagHeartBtInt, strconv.Itoa(int(s.cfg.Heartbeat/time.Second)))
	if reset {
		m.Set(TagResetSeqNumFlag, "Y")
	}
	return s.Stamp(m).Encode(nil)
}

// Heartbeat encodes a heartbeat, answering testReqID when set.
func (s *Session) Heartbeat(testReqID string) []byte {
	m := NewMessage(MsgHeartbeat)
	if testReqID != "" {
		m.Set(TagTestReqID, testReqID)
	}
	return s.Stamp(m).Encode(nil)
}

func (s *Session) Logout(text string) []byte {
	m := NewMessage(MsgLogout)
	if text != "" {
		m.Set(TagText, text)
	}
	return s.Stamp(m).Encode(nil)
}

func (s *Session) resendRequest(from uint64) []byte {
	m := NewMessage(MsgResendRequest).
		Set(TagBeginSeqNo, strconv.FormatUint(from, 10)).
		Set(TagEndSeqNo, "0")
	return s.Stamp(m).Encode(nil)
}

// gapFill answers a resend request; application messages are not
// replayed.
func (s *Session) gapFill(from uint64) []byte {
	m := NewMessage(MsgSequenceReset).
		Set(TagGapFillFlag, "Y").
		Set(TagNewSeqNo, strconv.FormatUint(s.outSeq, 10))
	m.BeginString = s.cfg.BeginString
	m.SenderCompID = s.cfg.SenderCompID
	m.TargetCompID = s.cfg.TargetCompID
	m.MsgSeqNum = from
	m.SendingTime = time.Unix(0, s.clock.Now()).UTC().Format(sendingTimeLayout)
	m.Set(TagPossDupFlag, "Y")
	return m.Encode(nil)
}

func control(reply []byte, note string) decode.Event {
	return decode.Event{Kind: decode.EventControl, Control: &decode.Control{Reply: reply, Note: note}}
}

func (s *Session) Decode(frame []byte) (decode.Event, error) {
	m, err := Decode(frame)
	if err != nil {
		return decode.Event{}, decode.MalformedErr(err, "fix")
	}
	if m.BeginString != s.cfg.BeginString {
		return decode.Event{}, decode.Unsupported("fix begin string %s", m.BeginString)
	}
	if m.SenderCompID != s.cfg.TargetCompID || m.TargetCompID != s.cfg.SenderCompID {
		return decode.Event{}, decode.MalformedErr(errors.Wrapf(exception.ErrFIXCompIDMismatch,
			"%s->%s", m.SenderCompID, m.TargetCompID), "fix header")
	}

	if m.MsgType == MsgSequenceReset {
		next, ok := m.GetUint(TagNewSeqNo)
		if !ok {
			return decode.Event{}, decode.MalformedErr(exception.ErrFIXMissingField, "NewSeqNo")
		}
		if next < s.inSeq {
			return decode.Event{}, decode.MalformedErr(exception.ErrFIXSequenceLow, "NewSeqNo "+strconv.FormatUint(next, 10))
		}
		s.inSeq = next
		return control(nil, "sequence reset to "+strconv.FormatUint(next, 10)), nil
	}

	switch {
	case m.MsgSeqNum > s.inSeq:
		logs.Warnf("fix %s: gap, expected %d got %d", s.cfg.TargetCompID, s.inSeq, m.MsgSeqNum)
		return control(s.resendRequest(s.inSeq), "resend from "+strconv.FormatUint(s.inSeq, 10)), nil
	case m.MsgSeqNum < s.inSeq:
		if dup, _ := m.Get(TagPossDupFlag); dup == "Y" {
			return decode.Event{}, decode.Unsupported("possible duplicate %d", m.MsgSeqNum)
		}
		return decode.Event{}, decode.MalformedErr(errors.Wrapf(exception.ErrFIXSequenceLow,
			"expected %d got %d", s.inSeq, m.MsgSeqNum), "fix header")
	}
	s.inSeq++

	switch m.MsgType {
	case MsgHeartbeat:
		return decode.Event{Kind: decode.EventHeartbeat}, nil
	case MsgTestRequest:
		id, _ := m.Get(TagTestReqID)
		return control(s.Heartbeat(id), "test request "+id), nil
	case MsgLogon:
		if v, ok := m.Get(TagHeartBtInt); ok {
			if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
				s.cfg.Heartbeat = time.Duration(sec) * time.Second
			}
		}
		return control(nil, "logon"), nil
	case MsgLogout:
		text, _ := m.Get(TagText)
		return control(nil, "logout "+text), nil
	case MsgResendRequest:
		from, ok := m.GetUint(TagBeginSeqNo)
		if !ok {
			return decode.Event{}, decode.MalformedErr(exception.ErrFIXMissingField, "BeginSeqNo")
		}
		return control(s.gapFill(from), "gap fill from "+strconv.FormatUint(from, 10)), nil
	case MsgReject:
		ref, _ := m.GetUint(TagRefSeqNum)
		code, _ := m.Get(TagSessionRejReason)
		text, _ := m.Get(TagText)
		return decode.Event{Kind: decode.EventReject, Reject: &decode.Reject{Venue: s.cfg.Venue, RefSeq: ref, Code: code, Reason: text}}, nil
	case MsgBusinessMessageReject:
		ref, _ := m.GetUint(TagRefSeqNum)
		refID, _ := m.Get(TagBusinessRejRefID)
		code, _ := m.Get(TagBusinessRejCode)
		text, _ := m.Get(TagText)
		return decode.Event{Kind: decode.EventReject, Reject: &decode.Reject{Venue: s.cfg.Venue, RefSeq: ref, RefID: refID, Code: code, Reason: text}}, nil
	case MsgOrderCancelReject:
		refID, _ := m.Get(TagClOrdID)
		code, _ := m.Get(TagCxlRejReason)
		text, _ := m.Get(TagText)
		return decode.Event{Kind: decode.EventReject, Reject: &decode.Reject{Venue: s.cfg.Venue, RefID: refID, Code: code, Reason: text}}, nil
	case MsgExecutionReport:
		return s.executionReport(m)
	default:
		return decode.Event{}, decode.Unsupported("fix message type %s", m.MsgType)
	}
}
