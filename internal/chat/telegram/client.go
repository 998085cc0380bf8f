// Package telegram implements chat.Transport over an MTProto user session.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/cuongbtq/videogen/internal/chat"
	"github.com/cuongbtq/videogen/internal/domain"
)

const defaultDownloadThreads = 4

// Config holds the MTProto application credentials and session location
type Config struct {
	AppID           int
	AppHash         string
	SessionPath     string
	DownloadThreads int
}

// messagesAPI is the subset of tg.Client the transport calls
type messagesAPI interface {
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
}

type resolvedPeer struct {
	input  tg.InputPeerClass
	userID int64
}

// Client is a shared, already-authorized Telegram session
type Client struct {
	client  *telegram.Client
	api     messagesAPI
	files   downloader.Client
	threads int
	selfID  int64
	logger  *slog.Logger

	mu    sync.Mutex
	peers map[chat.Peer]resolvedPeer
}

var _ chat.Transport = (*Client)(nil)

// New creates a Client. The session file must already hold an authorized login.
func New(cfg Config, logger *slog.Logger) *Client {
	threads := cfg.DownloadThreads
	if threads <= 0 {
		threads = defaultDownloadThreads
	}

	return &Client{
		client: telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
			SessionStorage: &session.FileStorage{Path: cfg.SessionPath},
		}),
		threads: threads,
		logger:  logger,
		peers:   make(map[chat.Peer]resolvedPeer),
	}
}

// Run connects, checks the session is authorized and calls f while connected.
// The transport methods are usable only inside f.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to check session status: %w", classify(err))
		}
		if !status.Authorized {
			return fmt.Errorf("%w: session is not logged in", domain.ErrAuthentication)
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("failed to load session user: %w", classify(err))
		}

		api := c.client.API()
		c.api = api
		c.files = api
		c.selfID = self.ID

		c.logger.Info("Telegram session ready",
			slog.Int64("user_id", self.ID),
			slog.String("username", self.Username),
		)
		return f(ctx)
	})
}

// Send posts text to peer and returns the id Telegram assigned to it
func (c *Client) Send(ctx context.Context, peer chat.Peer, text string) (int64, error) {
	p, err := c.resolve(ctx, peer)
	if err != nil {
		return 0, err
	}

	randomID := rand.Int64()
	upd, err := c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     p.input,
		Message:  text,
		RandomID: randomID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", classify(err))
	}

	id, ok := sentMessageID(upd, randomID)
	if !ok {
		return 0, fmt.Errorf("sent message id missing from %T", upd)
	}
	return id, nil
}

// ListRecent returns up to limit messages of the conversation, newest first
func (c *Client) ListRecent(ctx context.Context, peer chat.Peer, limit int) ([]chat.Message, error) {
	p, err := c.resolve(ctx, peer)
	if err != nil {
		return nil, err
	}

	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  p.input,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", classify(err))
	}

	raw := historyMessages(res)
	msgs := make([]chat.Message, 0, len(raw))
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		msgs = append(msgs, convertMessage(msg, c.selfID))
	}
	return msgs, nil
}

// ResolveIdentity returns the user id behind peer
func (c *Client) ResolveIdentity(ctx context.Context, peer chat.Peer) (int64, error) {
	p, err := c.resolve(ctx, peer)
	if err != nil {
		return 0, err
	}
	return p.userID, nil
}

// Download fetches msg's document into sink
func (c *Client) Download(ctx context.Context, msg chat.Message, sink chat.Sink, mode chat.TransferMode) (int64, error) {
	loc, ok := msg.Attachment.(*tg.InputDocumentFileLocation)
	if !ok {
		return 0, fmt.Errorf("message %d has no downloadable document", msg.ID)
	}

	w := &countingSink{sink: sink}
	b := downloader.NewDownloader().Download(c.files, loc)

	var err error
	switch mode {
	case chat.TransferSequential:
		_, err = b.Stream(ctx, w)
	default:
		_, err = b.WithThreads(c.threads).Parallel(ctx, w)
	}
	if err != nil {
		return w.n.Load(), fmt.Errorf("%s download of message %d failed: %w", mode, msg.ID, classify(err))
	}
	return w.n.Load(), nil
}

// resolve looks peer up by username once and caches the access hash
func (c *Client) resolve(ctx context.Context, peer chat.Peer) (resolvedPeer, error) {
	c.mu.Lock()
	p, ok := c.peers[peer]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	res, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: string(peer)})
	if err != nil {
		err = classify(err)
		if errors.Is(err, domain.ErrAuthentication) {
			return resolvedPeer{}, err
		}
		return resolvedPeer{}, fmt.Errorf("%w: resolve %s: %v", domain.ErrPeerUnavailable, peer, err)
	}

	p, ok = resolvedUser(res)
	if !ok {
		return resolvedPeer{}, fmt.Errorf("%w: %s is not a user", domain.ErrPeerUnavailable, peer)
	}

	c.mu.Lock()
	c.peers[peer] = p
	c.mu.Unlock()

	c.logger.Debug("Resolved chat peer",
		slog.String("peer", string(peer)),
		slog.Int64("user_id", p.userID),
	)
	return p, nil
}

func resolvedUser(res *tg.ContactsResolvedPeer) (resolvedPeer, bool) {
	target, ok := res.Peer.(*tg.PeerUser)
	if !ok {
		return resolvedPeer{}, false
	}
	for _, u := range res.Users {
		user, ok := u.(*tg.User)
		if !ok || user.ID != target.UserID {
			continue
		}
		return resolvedPeer{
			input:  &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
			userID: user.ID,
		}, true
	}
	return resolvedPeer{}, false
}

// classify maps MTProto authorization failures onto domain.ErrAuthentication
func classify(err error) error {
	if auth.IsUnauthorized(err) {
		return fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	return err
}

// countingSink counts bytes on both the sequential and the parallel path
type countingSink struct {
	sink chat.Sink
	n    atomic.Int64
}

func (s *countingSink) Write(p []byte) (int, error) {
	n, err := s.sink.Write(p)
	s.n.Add(int64(n))
	return n, err
}

func (s *countingSink) WriteAt(p []byte, off int64) (int, error) {
	n, err := s.sink.WriteAt(p, off)
	s.n.Add(int64(n))
	return n, err
}
