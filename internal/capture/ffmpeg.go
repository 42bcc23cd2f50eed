package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrReadTimeout  = errors.New("capture: read timeout")
	ErrHandleClosed = errors.New("capture: handle closed")
)

const maxFrameBytes = 10 * 1024 * 1024

// FFmpegOpener opens sources by running ffmpeg and splitting its mjpeg
// output into individual JPEG frames.
type FFmpegOpener struct {
	Path        string
	BufferSize  int
	OpenTimeout time.Duration
	ReadTimeout time.Duration
}

// Open starts ffmpeg for streamURL and waits for the first decoded frame.
func (o *FFmpegOpener) Open(ctx context.Context, streamURL string) (Handle, error) {
	path := o.Path
	if path == "" {
		path = "ffmpeg"
	}
	buffer := o.BufferSize
	if buffer <= 0 {
		buffer = 2
	}

	// The process outlives ctx: it belongs to the handle until Close.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, path, ffmpegArgs(streamURL, o.OpenTimeout)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	h := newFrameQueue(buffer, o.ReadTimeout, cancel)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		h.watchStderr(stderr)
	}()
	go func() {
		err := readJPEGFrames(procCtx, stdout, h.push)
		h.drain(err, stderrDone, cmd.Wait)
	}()

	if err := h.awaitFirst(ctx, o.OpenTimeout); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func ffmpegArgs(streamURL string, openTimeout time.Duration) []string {
	if openTimeout <= 0 {
		openTimeout = 5 * time.Second
	}
	micros := strconv.FormatInt(openTimeout.Microseconds(), 10)

	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-nostdin",
	}
	if strings.HasPrefix(streamURL, "rtsp://") || strings.HasPrefix(streamURL, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", micros,
		)
	} else if strings.HasPrefix(streamURL, "http://") || strings.HasPrefix(streamURL, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-rw_timeout", micros,
		)
	}
	return append(args,
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", streamURL,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
}

// frameQueue is a Handle over a producer that pushes encoded frames.
// It holds at most cap(frames) frames and drops the oldest when full.
type frameQueue struct {
	frames      chan []byte
	first       chan struct{}
	done        chan struct{}
	readTimeout time.Duration
	cancel      context.CancelFunc

	firstOnce sync.Once
	doneOnce  sync.Once
	closeOnce sync.Once
	fpsBits   atomic.Uint64

	mu         sync.Mutex
	err        error
	lastStderr string
}

func newFrameQueue(size int, readTimeout time.Duration, cancel context.CancelFunc) *frameQueue {
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	if cancel == nil {
		cancel = func() {}
	}
	return &frameQueue{
		frames:      make(chan []byte, size),
		first:       make(chan struct{}),
		done:        make(chan struct{}),
		readTimeout: readTimeout,
		cancel:      cancel,
	}
}

// push is called by the single producer goroutine.
func (q *frameQueue) push(frame []byte) {
	for {
		select {
		case q.frames <- frame:
			q.firstOnce.Do(func() { close(q.first) })
			return
		default:
		}
		select {
		case <-q.frames:
		default:
		}
	}
}

func (q *frameQueue) finish(err error) {
	q.doneOnce.Do(func() {
		q.mu.Lock()
		q.err = err
		q.mu.Unlock()
		close(q.done)
	})
}

// drain ends the handle after the producer stops. Stderr is read to EOF
// before wait runs, since wait closes the pipe and the final ffmpeg lines
// carry the failure reason.
func (q *frameQueue) drain(readErr error, stderrDone <-chan struct{}, wait func() error) {
	if readErr != nil {
		q.cancel()
	}
	<-stderrDone
	err := wait()
	if readErr != nil {
		err = readErr
	}
	if err != nil {
		q.mu.Lock()
		last := q.lastStderr
		q.mu.Unlock()
		if last != "" {
			err = fmt.Errorf("%w: %s", err, last)
		}
	}
	q.finish(err)
}

func (q *frameQueue) exitErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		return ErrHandleClosed
	}
	return fmt.Errorf("%w: %v", ErrHandleClosed, q.err)
}

func (q *frameQueue) awaitFirst(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.first:
		return nil
	case <-q.done:
		return fmt.Errorf("source closed before first frame: %w", q.exitErr())
	case <-timer.C:
		return fmt.Errorf("no frame within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *frameQueue) Read(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(q.readTimeout)
	defer timer.Stop()

	select {
	case f := <-q.frames:
		return f, nil
	case <-q.done:
		if f, ok := q.TryRead(); ok {
			return f, nil
		}
		return nil, q.exitErr()
	case <-timer.C:
		return nil, ErrReadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *frameQueue) TryRead() ([]byte, bool) {
	select {
	case f := <-q.frames:
		return f, true
	default:
		return nil, false
	}
}

func (q *frameQueue) FPS() float64 {
	fps := math.Float64frombits(q.fpsBits.Load())
	if fps <= 0 || fps >= 240 {
		return 0
	}
	return fps
}

func (q *frameQueue) Close() error {
	q.closeOnce.Do(func() {
		q.cancel()
		q.finish(nil)
	})
	return nil
}

var fpsPattern = regexp.MustCompile(`(\d+(?:\.\d+)?) fps`)

func (q *frameQueue) watchStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			q.mu.Lock()
			q.lastStderr = trimmed
			q.mu.Unlock()
		}
		if strings.Contains(line, "Video:") {
			if fps, ok := parseFPS(line); ok {
				q.fpsBits.Store(math.Float64bits(fps))
			}
		}
		if strings.Contains(strings.ToLower(line), "error") {
			slog.Warn("ffmpeg stderr", "output", line)
		} else {
			slog.Debug("ffmpeg stderr", "output", line)
		}
	}
}

func parseFPS(line string) (float64, bool) {
	m := fpsPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	fps, err := strconv.ParseFloat(m[1], 64)
	if err != nil || fps <= 0 || fps >= 240 {
		return 0, false
	}
	return fps, true
}

// readJPEGFrames splits a stream of concatenated JPEG images on SOI/EOI markers.
func readJPEGFrames(ctx context.Context, r io.Reader, emit func([]byte)) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := findJPEGStart(reader); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		frame, err := readUntilJPEGEnd(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		emit(frame)
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}
		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
