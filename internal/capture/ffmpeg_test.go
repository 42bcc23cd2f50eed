package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestReadJPEGFrames(t *testing.T) {
	frameA := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0x00, 0xFF, 0xD9}
	frameB := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x13})
	stream.Write(frameA)
	stream.Write([]byte{0x42})
	stream.Write(frameB)
	stream.Write([]byte{0xFF, 0xD8, 0x09})

	var got [][]byte
	err := readJPEGFrames(context.Background(), &stream, func(f []byte) {
		got = append(got, f)
	})
	if err != nil {
		t.Fatalf("readJPEGFrames: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !bytes.Equal(got[0], frameA) || !bytes.Equal(got[1], frameB) {
		t.Errorf("frames = %x, want %x and %x", got, frameA, frameB)
	}
}

func TestParseFPS(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"  Stream #0:0: Video: h264 (Main), yuv420p, 1920x1080, 25 fps, 25 tbr, 90k tbn", 25, true},
		{"  Stream #0:0: Video: h264, yuv420p, 1280x720, 29.97 fps, 29.97 tbr", 29.97, true},
		{"  Stream #0:0: Video: mjpeg, yuvj420p, 640x480, 1000 fps", 0, false},
		{"  Stream #0:0: Video: h264, yuv420p, 1280x720, 90k tbn", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseFPS(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseFPS(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFrameQueue_dropsOldest(t *testing.T) {
	q := newFrameQueue(2, 50*time.Millisecond, nil)
	for i := byte(1); i <= 5; i++ {
		q.push([]byte{i})
	}

	first, err := q.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	second, ok := q.TryRead()
	if !ok {
		t.Fatal("expected a second buffered frame")
	}
	if first[0] != 4 || second[0] != 5 {
		t.Errorf("buffered frames = %d, %d; want 4, 5", first[0], second[0])
	}
	if _, ok := q.TryRead(); ok {
		t.Error("queue should be empty")
	}
}

func TestFrameQueue_readTimeoutAndClose(t *testing.T) {
	q := newFrameQueue(2, 20*time.Millisecond, nil)

	if _, err := q.Read(context.Background()); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("Read on empty queue = %v, want ErrReadTimeout", err)
	}

	q.push([]byte{7})
	_ = q.Close()

	f, err := q.Read(context.Background())
	if err != nil || f[0] != 7 {
		t.Fatalf("buffered frame after close = %v, %v", f, err)
	}
	if _, err := q.Read(context.Background()); !errors.Is(err, ErrHandleClosed) {
		t.Fatalf("Read after close = %v, want ErrHandleClosed", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	rtsp := ffmpegArgs("rtsp://cam/s", 5*time.Second)
	if !slices.Contains(rtsp, "-rtsp_transport") || !slices.Contains(rtsp, "5000000") {
		t.Errorf("rtsp args missing transport or timeout: %v", rtsp)
	}
	http := ffmpegArgs("http://cam/video.mjpg", 2*time.Second)
	if !slices.Contains(http, "-rw_timeout") || slices.Contains(http, "-rtsp_transport") {
		t.Errorf("http args = %v", http)
	}
	if http[len(http)-1] != "pipe:1" {
		t.Errorf("output should go to stdout, got %q", http[len(http)-1])
	}
}

func TestFrameQueue_drainKeepsFinalStderr(t *testing.T) {
	q := newFrameQueue(1, time.Second, nil)
	pr, pw := io.Pipe()
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		q.watchStderr(pr)
	}()

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		q.drain(nil, stderrDone, func() error {
			select {
			case <-stderrDone:
			default:
				t.Error("wait ran before stderr reached EOF")
			}
			return errors.New("exit status 1")
		})
	}()

	fmt.Fprintln(pw, "Input #0, rtsp, from 'rtsp://cam/stream':")
	fmt.Fprintln(pw, "rtsp://cam/stream: Connection refused")
	pw.Close()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not finish")
	}
	err := q.exitErr()
	if !errors.Is(err, ErrHandleClosed) || !strings.Contains(err.Error(), "Connection refused") {
		t.Errorf("exit error = %v", err)
	}
}
