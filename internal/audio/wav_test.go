package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := sine(220, 0.3, 250, 16000)
	blob := EncodeWAV(samples, 16000)

	decoded, rate, err := DecodeWAV(blob)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, samples, decoded)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, _, err := DecodeWAV([]byte("definitely not audio"))
	assert.Error(t, err)

	_, _, err = DecodeWAV(nil)
	assert.Error(t, err)
}

func TestDecodeWAVDownmixesStereo(t *testing.T) {
	left := []int16{1000, 2000, 3000}
	right := []int16{3000, 4000, 5000}

	var body bytes.Buffer
	body.WriteString("RIFF")
	binary.Write(&body, binary.LittleEndian, uint32(36+len(left)*4))
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	binary.Write(&body, binary.LittleEndian, uint32(16))
	binary.Write(&body, binary.LittleEndian, uint16(1))
	binary.Write(&body, binary.LittleEndian, uint16(2))
	binary.Write(&body, binary.LittleEndian, uint32(16000))
	binary.Write(&body, binary.LittleEndian, uint32(16000*4))
	binary.Write(&body, binary.LittleEndian, uint16(4))
	binary.Write(&body, binary.LittleEndian, uint16(16))
	body.WriteString("data")
	binary.Write(&body, binary.LittleEndian, uint32(len(left)*4))
	for i := range left {
		binary.Write(&body, binary.LittleEndian, left[i])
		binary.Write(&body, binary.LittleEndian, right[i])
	}

	decoded, rate, err := DecodeWAV(body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, []int16{2000, 3000, 4000}, decoded)
}

func TestDecodeWAVRejectsUnsupportedFormats(t *testing.T) {
	blob := EncodeWAV([]int16{1, 2, 3}, 16000)

	// flip the format code to ieee float
	bad := append([]byte(nil), blob...)
	binary.LittleEndian.PutUint16(bad[20:22], 3)
	_, _, err := DecodeWAV(bad)
	assert.Error(t, err)

	// flip bit depth to 8
	bad = append([]byte(nil), blob...)
	binary.LittleEndian.PutUint16(bad[34:36], 8)
	_, _, err = DecodeWAV(bad)
	assert.Error(t, err)
}
