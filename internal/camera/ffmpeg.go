package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpegOpener streams MJPEG frames out of ffmpeg, which already knows how
// to talk to v4l2, avfoundation and dshow devices.
type FFmpegOpener struct {
	Binary    string
	InputKind string
	Device    string
	FrameRate int
}

func (o FFmpegOpener) args() []string {
	kind := o.InputKind
	if kind == "" {
		kind = "v4l2"
	}
	rate := o.FrameRate
	if rate <= 0 {
		rate = 10
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", kind,
		"-framerate", strconv.Itoa(rate),
		"-i", o.Device,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3",
		"-",
	}
}

func (o FFmpegOpener) Open(ctx context.Context) (Device, error) {
	binary := o.Binary
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The device outlives ctx; Close ends the process.
	cmd := exec.Command(path, o.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}
	return &ffmpegDevice{cmd: cmd, stdout: stdout, frames: NewMJPEGReader(stdout), stderr: &stderr}, nil
}

type ffmpegDevice struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frames *MJPEGReader
	stderr *bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

func (d *ffmpegDevice) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := d.frames.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("video stream ended: %s", strings.TrimSpace(d.stderr.String()))
		}
		return nil, err
	}
	return jpeg.Decode(bytes.NewReader(data))
}

func (d *ffmpegDevice) Close() error {
	d.closeOnce.Do(func() {
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		_ = d.stdout.Close()
		if err := d.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				d.closeErr = err
			}
		}
	})
	return d.closeErr
}

// MJPEGReader splits a concatenated JPEG stream into frames using the
// start-of-image and end-of-image markers.
type MJPEGReader struct {
	r *bufio.Reader
}

func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the bytes of the next complete frame.
func (m *MJPEGReader) Next() ([]byte, error) {
	if err := m.skipToSOI(); err != nil {
		return nil, err
	}

	frame := []byte{0xFF, 0xD8}
	prev := byte(0)
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		frame = append(frame, b)
		if prev == 0xFF && b == 0xD9 {
			return frame, nil
		}
		prev = b
	}
}

func (m *MJPEGReader) skipToSOI() error {
	prev := byte(0)
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}
