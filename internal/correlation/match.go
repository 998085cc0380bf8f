package correlation

import (
	"slices"
	"time"

	"github.com/cuongbtq/videogen/internal/chat"
	"github.com/cuongbtq/videogen/internal/domain"
	"github.com/cuongbtq/videogen/internal/marker"
)

// Strategy names the rule that accepted a candidate
type Strategy string

const (
	StrategyNone     Strategy = ""
	StrategyMarker   Strategy = "marker"
	StrategyReply    Strategy = "reply"
	StrategyTemporal Strategy = "temporal"
)

// Identity is the agent's sender id. Known is false when the lookup failed.
type Identity struct {
	ID    int64
	Known bool
}

// Request describes what a job is waiting for
type Request struct {
	JobID            string
	RequestMessageID int64
	Mode             domain.CorrelationMode
	MaxWait          time.Duration
}

func (r Request) legacy() bool {
	return r.Mode == domain.ModeLegacy
}

// Candidate is an inbound video message under evaluation, with its marker already decoded
type Candidate struct {
	Message   chat.Message
	MarkerID  string
	HasMarker bool
}

// Candidates filters msgs down to unclaimed video messages from the agent, newest first.
// A message claimed by jobID itself is kept.
func Candidates(msgs []chat.Message, agent Identity, claimed map[int64]string, jobID string) []Candidate {
	out := make([]Candidate, 0, len(msgs))
	for _, m := range msgs {
		// unknown agent or unknown sender: keep the message
		if agent.Known && m.SenderKnown && m.SenderID != agent.ID {
			continue
		}
		if owner, ok := claimed[m.ID]; ok && owner != jobID {
			continue
		}
		if !m.HasVideo() {
			continue
		}
		id, ok := marker.ExtractFrom(m.Text, m.Caption)
		out = append(out, Candidate{Message: m, MarkerID: id, HasMarker: ok})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		switch {
		case a.Message.ID > b.Message.ID:
			return -1
		case a.Message.ID < b.Message.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Match runs one poll cycle's decision over msgs. Marker matching always wins;
// reply-link and temporal matching only apply to legacy requests.
func Match(msgs []chat.Message, agent Identity, claimed map[int64]string, req Request, now time.Time, window time.Duration) (*chat.Message, Strategy) {
	candidates := Candidates(msgs, agent, claimed, req.JobID)

	for i := range candidates {
		if candidates[i].HasMarker && candidates[i].MarkerID == req.JobID {
			return &candidates[i].Message, StrategyMarker
		}
	}

	if !req.legacy() || req.RequestMessageID == 0 {
		return nil, StrategyNone
	}

	for i := range candidates {
		c := &candidates[i]
		if c.HasMarker {
			continue
		}
		if c.Message.ReplyToID == req.RequestMessageID {
			return &c.Message, StrategyReply
		}
	}

	// A reply to any message other than the request answers something else.
	for i := range candidates {
		c := &candidates[i]
		if c.HasMarker || c.Message.IsReply() {
			continue
		}
		if c.Message.ID <= req.RequestMessageID {
			continue
		}
		if now.Sub(c.Message.Date) > window {
			continue
		}
		return &c.Message, StrategyTemporal
	}

	return nil, StrategyNone
}
