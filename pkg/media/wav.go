package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const wavHeaderSize = 44

// EncodeWAV encodes interleaved PCM16 samples into a WAV container.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if channels > 1 && len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d not divisible by %d channels", len(samples), channels)
	}

	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * uint32(bitsPerSample) / 8,
		BlockAlign:    uint16(channels) * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes a WAV container back into interleaved PCM16 samples,
// returning the samples, sample rate and channel count.
func DecodeWAV(data []byte) ([]int16, int, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, 0, fmt.Errorf("wav data too short: %d bytes", len(data))
	}
	r := bytes.NewReader(data)
	var header WAVHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("read wav header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE container")
	}
	if header.AudioFormat != 1 || header.BitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported wav format %d/%d-bit", header.AudioFormat, header.BitsPerSample)
	}
	payload := data[wavHeaderSize:]
	n := int(header.Subchunk2Size) / 2
	if n > len(payload)/2 {
		n = len(payload) / 2
	}
	samples := make([]int16, n)
	if err := binary.Read(bytes.NewReader(payload[:n*2]), binary.LittleEndian, samples); err != nil {
		return nil, 0, 0, fmt.Errorf("read wav data: %w", err)
	}
	return samples, int(header.SampleRate), int(header.NumChannels), nil
}
