package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// EncodeWAV writes mono 16-bit PCM samples as a RIFF/WAVE blob, the
// wire format the transcription capability accepts.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // pcm
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

// DecodeWAV parses a 16-bit PCM RIFF/WAVE blob. Multichannel audio is
// downmixed by averaging.
func DecodeWAV(raw []byte) ([]int16, int, error) {
	r := bytes.NewReader(raw)

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a wave file")
	}

	var (
		channels   uint16
		sampleRate uint32
		bits       uint16
		data       []byte
		haveFmt    bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		} else if err != nil {
			return nil, 0, fmt.Errorf("read chunk header: %w", err)
		}
		size := binary.LittleEndian.Uint32(hdr[4:8])
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, 0, fmt.Errorf("read chunk body: %w", err)
		}
		if size%2 == 1 {
			io.CopyN(io.Discard, r, 1)
		}

		switch string(hdr[0:4]) {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported wave format %d", format)
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("unsupported bit depth %d", bits)
			}
			if channels == 0 {
				return nil, 0, errors.New("zero channels")
			}
			haveFmt = true
		case "data":
			data = body
		}
	}
	if !haveFmt {
		return nil, 0, errors.New("missing fmt chunk")
	}
	if data == nil {
		return nil, 0, errors.New("missing data chunk")
	}

	frameCount := len(data) / (2 * int(channels))
	samples := make([]int16, frameCount)
	for i := 0; i < frameCount; i++ {
		var acc int
		for c := 0; c < int(channels); c++ {
			off := (i*int(channels) + c) * 2
			acc += int(int16(binary.LittleEndian.Uint16(data[off : off+2])))
		}
		samples[i] = int16(acc / int(channels))
	}
	return samples, int(sampleRate), nil
}
