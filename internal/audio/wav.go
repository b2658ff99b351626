package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// wavHeaderSize is the size of the canonical 44-byte RIFF/WAVE header written
// by WriteWAV. ReadWAV tolerates extra chunks before the data chunk.
const wavHeaderSize = 44

// ReadWAV reads a 16-bit mono PCM WAV file and returns its samples normalized
// to [-1, 1] along with the sample rate.
func ReadWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat wav %s: %w", path, err)
	}
	fileSize := info.Size()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%s is not a RIFF/WAVE file", path)
	}

	var (
		sampleRate int
		data       []byte
	)
	offset := int64(12)
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(f, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("read chunk header: %w", err)
		}
		offset += 8
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		// A declared size past the end of the file means the file is
		// truncated or the header is lying; either way, refuse it.
		if int64(chunkSize) > fileSize-offset {
			return nil, 0, fmt.Errorf("%s: chunk %s declares %d bytes past end of file", path, chunkID, chunkSize)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("%s: fmt chunk too short (%d bytes)", path, chunkSize)
			}
			fmtData := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, fmtData); err != nil {
				return nil, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(fmtData[0:2])
			channels := binary.LittleEndian.Uint16(fmtData[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bitsPerSample := binary.LittleEndian.Uint16(fmtData[14:16])
			if audioFormat != 1 || channels != 1 || bitsPerSample != 16 {
				return nil, 0, fmt.Errorf("%s: expected 16-bit mono PCM, got format=%d channels=%d bits=%d",
					path, audioFormat, channels, bitsPerSample)
			}
		case "data":
			data = make([]byte, chunkSize)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, 0, fmt.Errorf("read data chunk: %w", err)
			}
		default:
			// Skip unknown chunks (LIST, fact, ...)
			if _, err := f.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return nil, 0, fmt.Errorf("skip chunk %s: %w", chunkID, err)
			}
		}
		offset += int64(chunkSize)
		if sampleRate != 0 && data != nil {
			break
		}
		// RIFF chunks are word-aligned; an odd-sized chunk carries a pad byte.
		if chunkSize%2 == 1 {
			if _, err := f.Seek(1, io.SeekCurrent); err != nil {
				return nil, 0, fmt.Errorf("skip pad byte: %w", err)
			}
			offset++
		}
	}

	if sampleRate == 0 {
		return nil, 0, fmt.Errorf("%s: missing fmt chunk", path)
	}
	if data == nil {
		return nil, 0, fmt.Errorf("%s: missing data chunk", path)
	}

	samples := make([]float64, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, sampleRate, nil
}

// WriteWAV writes samples in [-1, 1] as a 16-bit mono PCM WAV file.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav %s: %w", path, err)
	}
	defer f.Close()

	dataSize := len(samples) * 2
	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}

	buf := make([]byte, dataSize)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(buf[2*i:2*i+2], uint16(int16(s*32767)))
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}
