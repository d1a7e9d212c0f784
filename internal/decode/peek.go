package decode

import "bytes"

// HasKey reports whether the quoted key appears anywhere in a JSON frame.
// It is a cheap router check and does not parse.
func HasKey(frame, key []byte) bool {
	return len(key) > 0 && bytes.Index(frame, key) >= 0
}

// StringField returns the string value following the first occurrence of
// key, without unescaping. The returned slice aliases frame.
func StringField(frame, key []byte) ([]byte, bool) {
	idx := bytes.Index(frame, key)
	if len(key) == 0 || idx < 0 {
		return nil, false
	}
	rest := frame[idx+len(key):]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return nil, false
	}
	rest = bytes.TrimLeft(rest[colon+1:], " \t\r\n")
	if len(rest) == 0 || rest[0] != '"' {
		return nil, false
	}
	end := bytes.IndexByte(rest[1:], '"')
	if end < 0 {
		return nil, false
	}
	return rest[1 : end+1], true
}
