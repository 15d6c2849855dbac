package tts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type wavFormat struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// parseWAV returns the PCM payload of a RIFF/WAVE file. Streaming writers
// such as espeak-ng leave the data size unset, so the data chunk runs to
// the end of the input.
func parseWAV(data []byte) (wavFormat, []byte, error) {
	var f wavFormat
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return f, nil, errors.New("not a RIFF/WAVE stream")
	}

	haveFormat := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return f, nil, errors.New("truncated fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return f, nil, fmt.Errorf("unsupported wav encoding %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			if f.BitsPerSample != 16 {
				return f, nil, fmt.Errorf("unsupported sample width %d", f.BitsPerSample)
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return f, nil, errors.New("data chunk before fmt chunk")
			}
			end := body + size
			if size == 0 || end > len(data) || end < body {
				end = len(data)
			}
			return f, data[body:end], nil
		}

		pos = body + size + size%2
		if pos < body {
			break
		}
	}
	return f, nil, errors.New("no data chunk")
}
