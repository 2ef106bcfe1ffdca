package classifier

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxMessage bounds a single framed message from the worker.
const maxMessage = 16 << 20

var errWorkerStopped = errors.New("classifier: worker stopped")

// WorkerConfig describes the local inference subprocess.
type WorkerConfig struct {
	Command   string
	Args      []string
	ModelPath string
	Env       []string
}

type workerRequest struct {
	Seq  uint64 `msgpack:"seq"`
	Crop []byte `msgpack:"crop"`
}

type workerResponse struct {
	Seq        uint64  `msgpack:"seq"`
	Drowsy     bool    `msgpack:"drowsy"`
	Confidence float64 `msgpack:"confidence"`
	Error      string  `msgpack:"error,omitempty"`
}

// Worker runs the model in a child process. Requests and responses are
// msgpack messages framed by a 4 byte big-endian length on stdin and stdout.
// Calls are serialized.
type Worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *zap.Logger

	mu     sync.Mutex
	seq    uint64
	broken bool
	done   chan struct{}
}

// WorkerLoader returns a Loader that starts the subprocess.
func WorkerLoader(cfg WorkerConfig, logger *zap.Logger) Loader {
	return func(context.Context) (Classifier, error) {
		return StartWorker(cfg, logger)
	}
}

// StartWorker verifies the model file and spawns the worker with
// "--model <path>" appended to its arguments.
func StartWorker(cfg WorkerConfig, logger *zap.Logger) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	args := append(append([]string{}, cfg.Args...), "--model", cfg.ModelPath)
	cmd := exec.Command(cfg.Command, args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	w := &Worker{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: logger.With(zap.Int("pid", cmd.Process.Pid)),
		done:   make(chan struct{}),
	}
	go w.logStderr(stderr)
	go w.wait()

	w.logger.Info("classifier worker started", zap.String("model", cfg.ModelPath))
	return w, nil
}

func (w *Worker) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w.logger.Debug("worker stderr", zap.String("line", scanner.Text()))
	}
}

func (w *Worker) wait() {
	err := w.cmd.Wait()
	close(w.done)
	if err != nil {
		w.logger.Warn("classifier worker exited", zap.Error(err))
	}
}

// Classify sends one crop and waits for the matching response. If ctx ends
// first the worker is killed, since the stream can no longer be trusted.
func (w *Worker) Classify(ctx context.Context, crop []byte) (Prediction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return Prediction{}, errWorkerStopped
	}

	w.seq++
	req := workerRequest{Seq: w.seq, Crop: crop}

	type result struct {
		resp workerResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		if r.err = writeMessage(w.stdin, req); r.err == nil {
			r.err = readMessage(w.stdout, &r.resp)
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			w.broken = true
			return Prediction{}, fmt.Errorf("worker roundtrip: %w", r.err)
		}
		if r.resp.Error != "" {
			return Prediction{}, fmt.Errorf("worker: %s", r.resp.Error)
		}
		if r.resp.Seq != req.Seq {
			w.broken = true
			return Prediction{}, fmt.Errorf("worker answered seq %d, want %d", r.resp.Seq, req.Seq)
		}
		return Prediction{Drowsy: r.resp.Drowsy, Confidence: r.resp.Confidence}, nil
	case <-w.done:
		w.broken = true
		return Prediction{}, errWorkerStopped
	case <-ctx.Done():
		w.broken = true
		w.cmd.Process.Kill()
		return Prediction{}, ctx.Err()
	}
}

// Close closes stdin so the worker can exit on its own and waits for it.
func (w *Worker) Close() error {
	w.mu.Lock()
	w.broken = true
	w.mu.Unlock()

	w.stdin.Close()
	<-w.done
	return nil
}

func writeMessage(wr io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := wr.Write(prefix[:]); err != nil {
		return err
	}
	_, err = wr.Write(data)
	return err
}

func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessage {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return msgpack.Unmarshal(data, v)
}
