package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/videogen/internal/chat"
)

const (
	peer    chat.Peer = "video_agent_bot"
	agentID int64     = 4242
	selfID  int64     = 7
)

var (
	start      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	videoBytes = []byte("\x00\x00\x00\x18ftypmp42 not really a video")
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

type downloadFunc func(sink chat.Sink) (int64, error)

// fakeTransport is an in-memory chat with the agent
type fakeTransport struct {
	mu        sync.Mutex
	clock     *fakeClock
	lastID    int64
	messages  []chat.Message // oldest first
	sent      []string
	sendErr   error
	listCalls int

	// hooks run without the lock held
	onSend     func(id int64, text string)
	beforeList func(call int)

	downloads     map[chat.TransferMode]downloadFunc
	downloadCalls []chat.TransferMode
}

func newFakeTransport(clock *fakeClock) *fakeTransport {
	return &fakeTransport{clock: clock, downloads: map[chat.TransferMode]downloadFunc{}}
}

func (f *fakeTransport) Send(_ context.Context, _ chat.Peer, text string) (int64, error) {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return 0, f.sendErr
	}
	f.lastID++
	id := f.lastID
	f.sent = append(f.sent, text)
	f.messages = append(f.messages, chat.Message{
		ID:          id,
		SenderID:    selfID,
		SenderKnown: true,
		Text:        text,
		Date:        f.clock.now(),
	})
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(id, text)
	}
	return id, nil
}

func (f *fakeTransport) ListRecent(_ context.Context, _ chat.Peer, limit int) ([]chat.Message, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	hook := f.beforeList
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.messages)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTransport) ResolveIdentity(context.Context, chat.Peer) (int64, error) {
	return agentID, nil
}

func (f *fakeTransport) Download(_ context.Context, msg chat.Message, sink chat.Sink, mode chat.TransferMode) (int64, error) {
	f.mu.Lock()
	f.downloadCalls = append(f.downloadCalls, mode)
	fn := f.downloads[mode]
	f.mu.Unlock()

	if !msg.HasVideo() {
		return 0, errors.New("message has no video")
	}
	if fn != nil {
		return fn(sink)
	}
	n, err := sink.Write(videoBytes)
	return int64(n), err
}

// addVideo posts a video from the agent and returns its id
func (f *fakeTransport) addVideo(caption string, replyTo int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID++
	f.messages = append(f.messages, chat.Message{
		ID:          f.lastID,
		SenderID:    agentID,
		SenderKnown: true,
		Caption:     caption,
		ReplyToID:   replyTo,
		Payload:     chat.PayloadVideo,
		Size:        int64(len(videoBytes)),
		Date:        f.clock.now(),
	})
	return f.lastID
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, jobID, localPath string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.paths = append(u.paths, localPath)
	return "s3://videogen-media/videos/" + jobID + ".mp4", nil
}
