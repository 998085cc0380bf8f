package telegram

import (
	"time"

	"github.com/gotd/td/tg"

	"github.com/cuongbtq/videogen/internal/chat"
)

// convertMessage turns an MTProto message into a chat.Message, deciding its payload kind
func convertMessage(m *tg.Message, selfID int64) chat.Message {
	msg := chat.Message{
		ID:   int64(m.ID),
		Date: time.Unix(int64(m.Date), 0).UTC(),
	}

	msg.SenderID, msg.SenderKnown = senderOf(m, selfID)

	if h, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok {
		msg.ReplyToID = int64(h.ReplyToMsgID)
	}

	media := m.Media
	if media != nil {
		// media messages carry their caption in the message text
		msg.Caption = m.Message
	} else {
		msg.Text = m.Message
	}

	switch v := media.(type) {
	case *tg.MessageMediaPhoto:
		msg.Payload = chat.PayloadPhoto
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			break
		}
		msg.Payload = chat.PayloadDocument
		if isVideo(doc) {
			msg.Payload = chat.PayloadVideo
		}
		msg.Size = doc.Size
		msg.Attachment = &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
	}

	return msg
}

func senderOf(m *tg.Message, selfID int64) (int64, bool) {
	if m.Out {
		return selfID, selfID != 0
	}
	if m.FromID != nil {
		if u, ok := m.FromID.(*tg.PeerUser); ok {
			return u.UserID, true
		}
		return 0, false
	}
	// private chats omit from_id on incoming messages
	if u, ok := m.PeerID.(*tg.PeerUser); ok {
		return u.UserID, true
	}
	return 0, false
}

func isVideo(doc *tg.Document) bool {
	for _, attr := range doc.Attributes {
		if _, ok := attr.(*tg.DocumentAttributeVideo); ok {
			return true
		}
	}
	return false
}

// historyMessages unwraps the variants messages.getHistory may return
func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesChannelMessages:
		return v.Messages
	default:
		return nil
	}
}

// sentMessageID finds the id of the message sent with randomID
func sentMessageID(upd tg.UpdatesClass, randomID int64) (int64, bool) {
	var updates []tg.UpdateClass
	switch v := upd.(type) {
	case *tg.UpdateShortSentMessage:
		return int64(v.ID), true
	case *tg.Updates:
		updates = v.Updates
	case *tg.UpdatesCombined:
		updates = v.Updates
	default:
		return 0, false
	}

	for _, u := range updates {
		if m, ok := u.(*tg.UpdateMessageID); ok && m.RandomID == randomID {
			return int64(m.ID), true
		}
	}
	for _, u := range updates {
		if m, ok := u.(*tg.UpdateNewMessage); ok {
			if msg, ok := m.Message.(*tg.Message); ok && msg.Out {
				return int64(msg.ID), true
			}
		}
	}
	return 0, false
}
