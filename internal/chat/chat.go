// Package chat defines the chat transport the worker talks to the generation agent through.
package chat

import (
	"context"
	"io"
	"time"
)

// Peer names the conversation partner, e.g. the agent's username
type Peer string

// PayloadKind is the inbound attachment variant, decided once when a message is read
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadPhoto
	PayloadDocument
	PayloadVideo
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadPhoto:
		return "photo"
	case PayloadDocument:
		return "document"
	case PayloadVideo:
		return "video"
	default:
		return "none"
	}
}

// TransferMode selects how an attachment is fetched
type TransferMode int

const (
	// TransferParallel fetches parts concurrently. Primary mode.
	TransferParallel TransferMode = iota
	// TransferSequential streams parts one by one. Fallback mode.
	TransferSequential
)

func (m TransferMode) String() string {
	if m == TransferSequential {
		return "sequential"
	}
	return "parallel"
}

// Message is one entry of a conversation history
type Message struct {
	ID          int64
	SenderID    int64
	SenderKnown bool
	Text        string
	Caption     string
	ReplyToID   int64 // 0 when the message is not a reply
	Payload     PayloadKind
	Size        int64
	Date        time.Time

	// Attachment is the transport's own handle for Download
	Attachment any
}

// HasVideo reports whether the message carries a document tagged as video
func (m *Message) HasVideo() bool {
	return m.Payload == PayloadVideo
}

// IsReply reports whether the message links to another one
func (m *Message) IsReply() bool {
	return m.ReplyToID != 0
}

// Sink receives a downloaded attachment. *os.File satisfies it.
type Sink interface {
	io.Writer
	io.WriterAt
}

// Transport is an authenticated chat session shared by all jobs
type Transport interface {
	// Send posts text to peer and returns the id of the sent message
	Send(ctx context.Context, peer Peer, text string) (int64, error)

	// ListRecent returns up to limit most recent messages, newest first
	ListRecent(ctx context.Context, peer Peer, limit int) ([]Message, error)

	// ResolveIdentity returns the user id messages from peer are sent with
	ResolveIdentity(ctx context.Context, peer Peer) (int64, error)

	// Download writes msg's attachment into sink and returns the byte count
	Download(ctx context.Context, msg Message, sink Sink, mode TransferMode) (int64, error)
}
