package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitFrame(t *testing.T) {
	payload := []byte("hello vigil")

	buf := AppendFrame(nil, payload)

	pdu, rest, ok := SplitFrame(buf)
	require.True(t, ok)
	require.EqualValues(t, payload, pdu)
	require.Empty(t, rest)
}

func TestSplitFrameNotReady(t *testing.T) {
	// Empty buffer.
	_, rest, ok := SplitFrame(nil)
	require.False(t, ok)
	require.Empty(t, rest)

	// Partial length prefix.
	_, rest, ok = SplitFrame([]byte{0x00, 0x00, 0x01})
	require.False(t, ok)
	require.Len(t, rest, 3)

	// Full prefix, but payload still in flight.
	buf := AppendFrame(nil, []byte("hello vigil"))
	_, rest, ok = SplitFrame(buf[:len(buf)-2])
	require.False(t, ok)
	require.Len(t, rest, len(buf)-2)
}

func TestSplitFramePartialSecondFrame(t *testing.T) {
	buf := AppendFrame(nil, []byte("first"))
	second := AppendFrame(nil, []byte("second"))

	// One complete frame followed by the first 3 bytes of the next
	// frame's length prefix.
	buf = append(buf, second[:3]...)

	pdu, rest, ok := SplitFrame(buf)
	require.True(t, ok)
	require.EqualValues(t, "first", pdu)
	require.Len(t, rest, 3)

	// The tail stays buffered until more bytes arrive.
	_, rest, ok = SplitFrame(rest)
	require.False(t, ok)
	require.Len(t, rest, 3)
}

func TestSplitFrameZeroLengthPayload(t *testing.T) {
	buf := AppendFrame(nil, nil)
	require.Len(t, buf, HeaderSize)

	pdu, rest, ok := SplitFrame(buf)
	require.True(t, ok)
	require.Empty(t, pdu)
	require.Empty(t, rest)
}

func TestSplitFrameBackToBack(t *testing.T) {
	buf := AppendFrame(nil, []byte("a"))
	buf = AppendFrame(buf, []byte("bb"))
	buf = AppendFrame(buf, []byte("ccc"))

	expected := []string{"a", "bb", "ccc"}
	for _, want := range expected {
		pdu, rest, ok := SplitFrame(buf)
		require.True(t, ok)
		require.EqualValues(t, want, pdu)
		buf = rest
	}
	require.Empty(t, buf)
}
