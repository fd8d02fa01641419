// ABOUTME: Stamper assigns relay-side identity to client and bot activities
// ABOUTME: Also builds the conversationUpdate announced when a conversation starts

package activity

import (
	"time"

	"github.com/google/uuid"
)

// ChannelID is the channel name stamped on every client activity.
const ChannelID = "emulator"

// Well-known participants of an offline conversation.
var (
	BotAccount   = ChannelAccount{ID: "id", Name: "Bot"}
	RelayAccount = ChannelAccount{ID: "offline-directline", Name: "Offline Directline Server"}
)

// Stamper fills in the fields the relay owns: ids, channel, service URL,
// conversation reference and timestamps. It never mutates its input.
type Stamper struct {
	serviceURL string
	now        func() time.Time
	newID      func() string
}

// NewStamper creates a stamper that points bots back at serviceURL.
func NewStamper(serviceURL string) *Stamper {
	return &Stamper{
		serviceURL: serviceURL,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// ServiceURL returns the base URL stamped on client activities.
func (s *Stamper) ServiceURL() string {
	return s.serviceURL
}

// StampClient returns a copy of in ready to be appended to conversationID's
// history and forwarded to the bot. Any id the client supplied is replaced.
func (s *Stamper) StampClient(in *Activity, conversationID string) *Activity {
	out := in.Clone()
	if out == nil {
		out = &Activity{}
	}
	out.ChannelID = ChannelID
	out.ServiceURL = s.serviceURL
	if out.Conversation == nil {
		out.Conversation = &ConversationAccount{}
	}
	out.Conversation.ID = conversationID
	out.ID = s.newID()
	s.stampTime(out)
	return out
}

// StampBot returns a copy of in with a fresh id and the given sender.
// Everything else the bot wrote is kept as-is.
func (s *Stamper) StampBot(in *Activity, sender ChannelAccount) *Activity {
	out := in.Clone()
	if out == nil {
		out = &Activity{}
	}
	out.ID = s.newID()
	out.From = sender.clone()
	s.stampTime(out)
	return out
}

// ConversationUpdate builds the activity announcing that the bot and a new
// user joined conversationID.
func (s *Stamper) ConversationUpdate(conversationID string) *Activity {
	out := &Activity{
		Type:         TypeConversationUpdate,
		ChannelID:    ChannelID,
		ServiceURL:   s.serviceURL,
		Conversation: &ConversationAccount{ID: conversationID},
		ID:           s.newID(),
		MembersAdded: []ChannelAccount{
			BotAccount,
			{ID: s.newID(), Name: "User"},
		},
		MembersRemoved: []ChannelAccount{},
		Recipient:      &ChannelAccount{ID: BotAccount.ID, Name: BotAccount.Name},
		From:           &ChannelAccount{ID: RelayAccount.ID, Name: RelayAccount.Name},
	}
	s.stampTime(out)
	return out
}

// stampTime always sets timestamp and only fills localTimestamp when absent.
func (s *Stamper) stampTime(a *Activity) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	a.Timestamp = now
	if a.LocalTimestamp == "" {
		a.LocalTimestamp = now
	}
}
