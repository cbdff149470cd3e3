package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeClassic(t *testing.T) {
	f := &Frame{ID: 0x548300, Data: []byte{0, 0, 0, 7}}
	raw, err := f.Encode()
	require.NoError(t, err)

	require.Len(t, raw, ClassicFrameSize)
	assert.Equal(t, []byte{0x00, 0x83, 0x54, 0x80}, raw[0:4])
	assert.Equal(t, byte(4), raw[4])
	assert.Equal(t, []byte{0, 0, 0, 7, 0, 0, 0, 0}, raw[8:])
}

func TestFrameEncodePadsFD(t *testing.T) {
	data := make([]byte, 19)
	data[18] = 0xAB
	f := &Frame{ID: 0x548300, Data: data, FD: true}
	raw, err := f.Encode()
	require.NoError(t, err)

	require.Len(t, raw, FDFrameSize)
	assert.Equal(t, byte(20), raw[4])
	assert.Equal(t, byte(fdFlagBRS), raw[5])
	assert.Equal(t, byte(0xAB), raw[8+18])
}

func TestFrameEncodeTooLong(t *testing.T) {
	_, err := (&Frame{Data: make([]byte, 9)}).Encode()
	assert.Error(t, err)

	_, err = (&Frame{Data: make([]byte, 65), FD: true}).Encode()
	assert.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	in := &Frame{ID: 0x548300, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, FD: true}
	raw, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, out.FD)
	// padded to 12 bytes
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0, 0, 0}, out.Data)
}

func TestDecodeFrameRejects(t *testing.T) {
	_, err := DecodeFrame(make([]byte, 10))
	assert.Error(t, err, "bad size")

	standard := make([]byte, ClassicFrameSize)
	standard[0] = 0x23
	_, err = DecodeFrame(standard)
	assert.Error(t, err, "standard id")

	errFrame := make([]byte, ClassicFrameSize)
	errFrame[3] = 0xA0
	_, err = DecodeFrame(errFrame)
	assert.Error(t, err, "error frame")
}

func TestPaddedLength(t *testing.T) {
	for in, want := range map[int]int{0: 0, 8: 8, 9: 12, 13: 16, 25: 32, 33: 48, 64: 64} {
		got, err := PaddedLength(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "length %d", in)
	}
	_, err := PaddedLength(65)
	assert.Error(t, err)
}
