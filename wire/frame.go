package wire

import "github.com/lithdew/bytesutil"

// HeaderSize is the width of the big-endian length prefix that fronts
// every PDU on the wire. The length counts payload bytes only.
const HeaderSize = 4

func AppendFrame(dst []byte, payload []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// SplitFrame splits one complete PDU payload off the front of buf. It
// reports ok=false when buf does not yet hold the full length prefix or
// the full payload the prefix declares. It never inspects the payload.
func SplitFrame(buf []byte) (pdu []byte, rest []byte, ok bool) {
	if len(buf) < HeaderSize {
		return nil, buf, false
	}
	n := bytesutil.Uint32BE(buf[:HeaderSize])
	if uint64(len(buf)-HeaderSize) < uint64(n) {
		return nil, buf, false
	}
	pdu = buf[HeaderSize : HeaderSize+int(n)]
	rest = buf[HeaderSize+int(n):]
	return pdu, rest, true
}
