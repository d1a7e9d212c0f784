// Package fix implements the FIX tag=value envelope and a client session
// that keeps sequence numbers inline.
package fix

import (
	"strconv"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const SOH = 0x01

// Tags used by the session and decoders.
const (
	TagAccount          = 1
	TagAvgPx            = 6
	TagBeginSeqNo       = 7
	TagBeginString      = 8
	TagBodyLength       = 9
	TagCheckSum         = 10
	TagClOrdID          = 11
	TagCommission       = 12
	TagCumQty           = 14
	TagCurrency         = 15
	TagEndSeqNo         = 16
	TagExecID           = 17
	TagLastPx           = 31
	TagLastQty          = 32
	TagMsgSeqNum        = 34
	TagMsgType          = 35
	TagNewSeqNo         = 36
	TagOrderID          = 37
	TagOrderQty         = 38
	TagOrdStatus        = 39
	TagOrdType          = 40
	TagOrigClOrdID      = 41
	TagPossDupFlag      = 43
	TagPrice            = 44
	TagRefSeqNum        = 45
	TagSenderCompID     = 49
	TagSendingTime      = 52
	TagSide             = 54
	TagSymbol           = 55
	TagTargetCompID     = 56
	TagText             = 58
	TagTimeInForce      = 59
	TagTransactTime     = 60
	TagEncryptMethod    = 98
	TagStopPx           = 99
	TagCxlRejReason     = 102
	TagHeartBtInt       = 108
	TagTestReqID        = 112
	TagGapFillFlag      = 123
	TagResetSeqNumFlag  = 141
	TagExecType         = 150
	TagSessionRejReason = 373
	TagBusinessRejRefID = 379
	TagBusinessRejCode  = 380
	TagLastLiquidityInd = 851
)

// Message types handled by the session.
const (
	MsgHeartbeat             = "0"
	MsgTestRequest           = "1"
	MsgResendRequest         = "2"
	MsgReject                = "3"
	MsgSequenceReset         = "4"
	MsgLogout                = "5"
	MsgExecutionReport       = "8"
	MsgOrderCancelReject     = "9"
	MsgLogon                 = "A"
	MsgBusinessMessageReject = "j"
)

type Field struct {
	Tag   int
	Value string
}

// Message is a decoded FIX message. The standard header fields are lifted
// out; Body keeps every other field in wire order.
type Message struct {
	BeginString  string
	MsgType      string
	SenderCompID string
	TargetCompID string
	MsgSeqNum    uint64
	SendingTime  string
	Body         []Field
	// CheckSum is the value carried on the wire, set by Decode.
	CheckSum int
}

func NewMessage(msgType string) *Message {
	return &Message{MsgType: msgType}
}

// Set replaces the first body field with tag, or appends it.
func (m *Message) Set(tag int, value string) *Message {
	for i := range m.Body {
		if m.Body[i].Tag == tag {
			m.Body[i].Value = value
			return m
		}
	}
	m.Body = append(m.Body, Field{Tag: tag, Value: value})
	return m
}

func (m *Message) Get(tag int) (string, bool) {
	for _, f := range m.Body {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// GetUint parses a numeric body field.
func (m *Message) GetUint(tag int) (uint64, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func appendField(dst []byte, tag int, value string) []byte {
	dst = strconv.AppendInt(dst, int64(tag), 10)
	dst = append(dst, '=')
	dst = append(dst, value...)
	return append(dst, SOH)
}

// Checksum is the byte sum modulo 256.
func Checksum(b []byte) int {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

func appendChecksum(dst []byte, sum int) []byte {
	dst = append(dst, "10="...)
	dst = append(dst, byte('0'+sum/100), byte('0'+sum/10%10), byte('0'+sum%10))
	return append(dst, SOH)
}

// Encode appends the wire form to dst, computing BodyLength and CheckSum.
func (m *Message) Encode(dst []byte) []byte {
	body := make([]byte, 0, 64+16*len(m.Body))
	body = appendField(body, TagMsgType, m.MsgType)
	body = appendField(body, TagSenderCompID, m.SenderCompID)
	body = appendField(body, TagTargetCompID, m.TargetCompID)
	body = appendField(body, TagMsgSeqNum, strconv.FormatUint(m.MsgSeqNum, 10))
	body = appendField(body, TagSendingTime, m.SendingTime)
	for _, f := range m.Body {
		body = appendField(body, f.Tag, f.Value)
	}

	start := len(dst)
	dst = appendField(dst, TagBeginString, m.BeginString)
	dst = appendField(dst, TagBodyLength, strconv.Itoa(len(body)))
	dst = append(dst, body...)
	return appendChecksum(dst, Checksum(dst[start:]))
}

// field reads one tag=value pair at the start of src and returns the bytes
// consumed.
func field(src []byte) (Field, int, error) {
	eq := -1
	for i, c := range src {
		if c == '=' {
			eq = i
			break
		}
		if c < '0' || c > '9' {
			return Field{}, 0, errors.Wrapf(exception.ErrFIXInvalidTag, "byte %q", c)
		}
	}
	if eq <= 0 {
		return Field{}, 0, errors.Wrap(exception.ErrFIXInvalidTag, "missing '='")
	}
	tag, err := strconv.Atoi(string(src[:eq]))
	if err != nil || tag <= 0 {
		return Field{}, 0, errors.Wrapf(exception.ErrFIXInvalidTag, "tag %q", src[:eq])
	}
	for i := eq + 1; i < len(src); i++ {
		if src[i] == SOH {
			return Field{Tag: tag, Value: string(src[eq+1 : i])}, i + 1, nil
		}
	}
	return Field{}, 0, errors.Wrapf(exception.ErrFIXMissingField, "tag %d not terminated", tag)
}

// Decode parses and validates one complete message.
func Decode(frame []byte) (*Message, error) {
	var fields []Field
	var offsets []int
	for pos := 0; pos < len(frame); {
		f, n, err := field(frame[pos:])
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		offsets = append(offsets, pos)
		pos += n
	}
	if len(fields) < 4 {
		return nil, errors.Wrapf(exception.ErrFIXMissingField, "%d fields", len(fields))
	}
	if fields[0].Tag != TagBeginString || fields[1].Tag != TagBodyLength || fields[2].Tag != TagMsgType {
		return nil, errors.Wrap(exception.ErrFIXFieldOrder, "header must open with 8, 9, 35")
	}
	last := len(fields) - 1
	if fields[last].Tag != TagCheckSum {
		return nil, errors.Wrap(exception.ErrFIXFieldOrder, "checksum must be the last field")
	}

	bodyLen, err := strconv.Atoi(fields[1].Value)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrFIXBodyLength, "value %q", fields[1].Value)
	}
	if actual := offsets[last] - offsets[2]; actual != bodyLen {
		return nil, errors.Wrapf(exception.ErrFIXBodyLength, "declared %d, actual %d", bodyLen, actual)
	}
	declared, err := strconv.Atoi(fields[last].Value)
	if err != nil || len(fields[last].Value) != 3 {
		return nil, errors.Wrapf(exception.ErrFIXChecksum, "value %q", fields[last].Value)
	}
	if sum := Checksum(frame[:offsets[last]]); sum != declared {
		return nil, errors.Wrapf(exception.ErrFIXChecksum, "declared %03d, computed %03d", declared, sum)
	}

	m := &Message{BeginString: fields[0].Value, MsgType: fields[2].Value, CheckSum: declared}
	seen := 0
	for _, f := range fields[3:last] {
		switch f.Tag {
		case TagSenderCompID:
			m.SenderCompID = f.Value
			seen |= 1
		case TagTargetCompID:
			m.TargetCompID = f.Value
			seen |= 2
		case TagMsgSeqNum:
			n, err := strconv.ParseUint(f.Value, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(exception.ErrFIXInvalidTag, "MsgSeqNum %q", f.Value)
			}
			m.MsgSeqNum = n
			seen |= 4
		case TagSendingTime:
			m.SendingTime = f.Value
			seen |= 8
		default:
			m.Body = append(m.Body, f)
		}
	}
	if seen != 15 {
		return nil, errors.Wrapf(exception.ErrFIXMissingField, "header of %s", m.MsgType)
	}
	return m, nil
}
