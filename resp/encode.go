package resp

import (
	"strconv"
)

// Encode serializes o to its wire form. Arrays are walked depth-first so
// each child's framing bytes are emitted in the order the grammar
// requires; Encode never fails because a constructed Object is always
// well-formed by construction.
func Encode(o Object) []byte {
	buf := make([]byte, 0, 64)
	return appendObject(buf, o)
}

func appendObject(buf []byte, o Object) []byte {
	switch o.kind {
	case KindSimpleString:
		buf = append(buf, '+')
		buf = append(buf, o.text...)
		return append(buf, crlf...)
	case KindError:
		buf = append(buf, '-')
		buf = append(buf, o.text...)
		return append(buf, crlf...)
	case KindInteger:
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, o.integer, 10)
		return append(buf, crlf...)
	case KindBulkString:
		buf = append(buf, '$')
		if o.bulkNil {
			buf = append(buf, '-', '1')
			return append(buf, crlf...)
		}
		buf = strconv.AppendInt(buf, int64(len(o.bulk)), 10)
		buf = append(buf, crlf...)
		buf = append(buf, o.bulk...)
		return append(buf, crlf...)
	case KindArray:
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(o.array)), 10)
		buf = append(buf, crlf...)
		for _, item := range o.array {
			buf = appendObject(buf, item)
		}
		return buf
	}
	return buf
}
