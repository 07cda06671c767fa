package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gatelet/gatelet/pkgs/mcp"
	"github.com/smallnest/ringbuffer"
)

const stdioShutdownGrace = 5 * time.Second

// A Stdio talks JSON-RPC to a tool provider spawned as a child
// process, one message per line on stdin/stdout.
type Stdio struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	handlers Handlers

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	waiters map[uint64]chan mcp.Message
	closed  bool

	exited chan struct{}
	errBuf *ringbuffer.RingBuffer
}

// NewStdio spawns the given command and returns a Backend driving it.
func NewStdio(command string, args []string, env []string, handlers Handlers) (*Stdio, error) {

	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("unable to start command: %w", err)
	}

	b := &Stdio{
		cmd:      cmd,
		stdin:    stdin,
		handlers: handlers,
		waiters:  map[uint64]chan mcp.Message{},
		exited:   make(chan struct{}),
		errBuf:   ringbuffer.New(4096),
	}

	go b.readLoop(stdout)
	go b.readStderr(stderr)

	return b, nil
}

func (b *Stdio) readLoop(stdout io.Reader) {

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg := mcp.Message{}
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Debug("Skipping undecodable line from backend", "err", err)
			continue
		}

		if msg.ID == nil {
			b.handleNotification(msg)
			continue
		}

		id, ok := messageID(msg.ID)
		if !ok {
			slog.Debug("Skipping response with unusable id", "id", msg.ID)
			continue
		}

		b.mu.Lock()
		ch := b.waiters[id]
		delete(b.waiters, id)
		b.mu.Unlock()

		if ch != nil {
			ch <- msg
		}
	}

	close(b.exited)
}

func (b *Stdio) readStderr(stderr io.Reader) {

	buf := make([]byte, 1024)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			_, _ = b.errBuf.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (b *Stdio) handleNotification(msg mcp.Message) {

	switch msg.Method {

	case mcp.MethodResourceUpdated:
		if b.handlers.OnResourceUpdated != nil {
			uri, _ := msg.Params["uri"].(string)
			b.handlers.OnResourceUpdated(uri)
		}

	case mcp.MethodResourceListChanged:
		if b.handlers.OnListChanged != nil {
			b.handlers.OnListChanged()
		}

	default:
		slog.Debug("Ignoring notification from backend", "method", msg.Method)
	}
}

func (b *Stdio) roundTrip(ctx context.Context, method string, params map[string]any) (mcp.Message, error) {

	id := b.nextID.Add(1)
	ch := make(chan mcp.Message, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return mcp.Message{}, fmt.Errorf("backend is closed")
	}
	b.waiters[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.waiters, id)
		b.mu.Unlock()
	}()

	data, err := json.Marshal(mcp.NewRequest(id, method, params))
	if err != nil {
		return mcp.Message{}, fmt.Errorf("unable to encode request: %w", err)
	}

	b.writeMu.Lock()
	_, err = b.stdin.Write(append(data, '\n'))
	b.writeMu.Unlock()
	if err != nil {
		return mcp.Message{}, fmt.Errorf("unable to write request: %w", err)
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-b.exited:
		tail, _ := io.ReadAll(b.errBuf)
		return mcp.Message{}, fmt.Errorf("backend exited: %s", string(tail))
	case <-ctx.Done():
		return mcp.Message{}, ctx.Err()
	}
}

// CallTool implements Backend.
func (b *Stdio) CallTool(ctx context.Context, tool string, args map[string]any) (*mcp.CallResult, error) {

	msg, err := b.roundTrip(ctx, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	if msg.Error != nil {
		return nil, mcp.NewRPCError(*msg.Error)
	}

	res := &mcp.CallResult{}
	if err := json.Unmarshal(msg.Result, res); err != nil {
		return nil, fmt.Errorf("unable to decode call result: %w", err)
	}

	return res, nil
}

// ListTools implements Backend.
func (b *Stdio) ListTools(ctx context.Context) (mcp.Tools, error) {

	msg, err := b.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	if msg.Error != nil {
		return nil, mcp.NewRPCError(*msg.Error)
	}

	out := struct {
		Tools mcp.Tools `json:"tools"`
	}{}
	if err := json.Unmarshal(msg.Result, &out); err != nil {
		return nil, fmt.Errorf("unable to decode tool list: %w", err)
	}

	return out.Tools, nil
}

// Close terminates the child process, first with SIGTERM, then with
// a kill if it doesn't exit within the grace period.
func (b *Stdio) Close() error {

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	_ = b.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()

	if err := b.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("Failed to send SIGTERM", "cmd", b.cmd.Args[0], "err", err)
	}

	select {
	case <-done:
	case <-time.After(stdioShutdownGrace):
		slog.Warn("Process didn't exit, killing", "cmd", b.cmd.Args[0])
		_ = b.cmd.Process.Kill()
		<-done
	}

	return nil
}

func messageID(v any) (uint64, bool) {
	switch id := v.(type) {
	case uint64:
		return id, true
	case int:
		return uint64(id), true
	case int64:
		return uint64(id), true
	case float64:
		return uint64(id), true
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
