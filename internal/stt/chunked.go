package stt

import "strconv"

const (
	crlf          = "\r\n"
	terminalChunk = "0\r\n\r\n"
)

// frameOverhead is the worst-case framing cost for payloads up to 4 GiB:
// 8 hex digits plus two CRLFs.
const frameOverhead = 8 + 2*len(crlf)

// Frame wraps payload as one HTTP/1.1 chunked-transfer segment: lowercase hex
// length, CRLF, payload, CRLF. A zero-length payload produces the terminal
// chunk, so callers must not frame empty payloads mid-body.
func Frame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, len(payload)+frameOverhead), payload)
}

// AppendFrame appends the framed payload to dst and returns the extended slice.
func AppendFrame(dst, payload []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 16)
	dst = append(dst, crlf...)
	dst = append(dst, payload...)
	return append(dst, crlf...)
}

// Terminal returns the zero-length chunk that ends a chunked body.
func Terminal() []byte {
	return []byte(terminalChunk)
}
