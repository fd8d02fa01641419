// ABOUTME: Activity model exchanged between Direct Line clients and the bot
// ABOUTME: Typed fields for known activity kinds plus an extension map for everything else

package activity

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Type is the activity type tag.
type Type string

// Known activity types. Anything else is carried through untouched.
const (
	TypeMessage               Type = "message"
	TypeConversationUpdate    Type = "conversationUpdate"
	TypeContactRelationUpdate Type = "contactRelationUpdate"
	TypeTyping                Type = "typing"
	TypeInvoke                Type = "invoke"
	TypeEvent                 Type = "event"
	TypeEndOfConversation     Type = "endOfConversation"
)

// ChannelAccount identifies a participant (user or bot).
type ChannelAccount struct {
	ID    string                     `json:"id,omitempty"`
	Name  string                     `json:"name,omitempty"`
	Role  string                     `json:"role,omitempty"`
	Extra map[string]json.RawMessage `json:"-"`
}

// ConversationAccount is the conversation reference carried on every activity.
type ConversationAccount struct {
	ID      string                     `json:"id,omitempty"`
	Name    string                     `json:"name,omitempty"`
	IsGroup bool                       `json:"isGroup,omitempty"`
	Extra   map[string]json.RawMessage `json:"-"`
}

// Attachment is a message attachment. Content is opaque.
type Attachment struct {
	ContentType  string                     `json:"contentType,omitempty"`
	ContentURL   string                     `json:"contentUrl,omitempty"`
	Content      json.RawMessage            `json:"content,omitempty"`
	Name         string                     `json:"name,omitempty"`
	ThumbnailURL string                     `json:"thumbnailUrl,omitempty"`
	Extra        map[string]json.RawMessage `json:"-"`
}

// Entity is a typed metadata object (mention, place, clientInfo...).
// Fields other than type are kept in Extra.
type Entity struct {
	Type  string                     `json:"type,omitempty"`
	Extra map[string]json.RawMessage `json:"-"`
}

// Activity is a single message or event in a conversation.
//
// Common fields apply to every type. The message, conversationUpdate and
// invoke/event groups are only meaningful for their type tag.
//
// Extra holds every key the typed fields cannot carry verbatim: keys this
// package does not model, known keys whose value has an unexpected JSON
// type, and known keys sent with an empty value. On output a non-empty
// typed field wins over an Extra entry of the same name.
type Activity struct {
	Type           Type                 `json:"type,omitempty"`
	ID             string               `json:"id,omitempty"`
	ServiceURL     string               `json:"serviceUrl,omitempty"`
	Timestamp      string               `json:"timestamp,omitempty"`
	LocalTimestamp string               `json:"localTimestamp,omitempty"`
	ChannelID      string               `json:"channelId,omitempty"`
	From           *ChannelAccount      `json:"from,omitempty"`
	Conversation   *ConversationAccount `json:"conversation,omitempty"`
	Recipient      *ChannelAccount      `json:"recipient,omitempty"`
	ReplyToID      string               `json:"replyToId,omitempty"`
	ChannelData    json.RawMessage      `json:"channelData,omitempty"`

	// message
	Locale           string       `json:"locale,omitempty"`
	Text             string       `json:"text,omitempty"`
	Summary          string       `json:"summary,omitempty"`
	TextFormat       string       `json:"textFormat,omitempty"`
	AttachmentLayout string       `json:"attachmentLayout,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	Entities         []Entity     `json:"entities,omitempty"`

	// conversationUpdate
	MembersAdded     []ChannelAccount `json:"membersAdded,omitempty"`
	MembersRemoved   []ChannelAccount `json:"membersRemoved,omitempty"`
	TopicName        string           `json:"topicName,omitempty"`
	HistoryDisclosed bool             `json:"historyDisclosed,omitempty"`

	// invoke / event
	Name  string          `json:"name,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ErrNotObject is returned by Parse for payloads that are not a JSON object.
var ErrNotObject = errors.New("activity must be a JSON object")

// The *JSON types strip the methods so the default encoder can be used.
type (
	activityJSON            Activity
	channelAccountJSON      ChannelAccount
	conversationAccountJSON ConversationAccount
	attachmentJSON          Attachment
	entityJSON              Entity
)

func (a *Activity) fields() map[string]any {
	return map[string]any{
		"type":             &a.Type,
		"id":               &a.ID,
		"serviceUrl":       &a.ServiceURL,
		"timestamp":        &a.Timestamp,
		"localTimestamp":   &a.LocalTimestamp,
		"channelId":        &a.ChannelID,
		"from":             &a.From,
		"conversation":     &a.Conversation,
		"recipient":        &a.Recipient,
		"replyToId":        &a.ReplyToID,
		"channelData":      &a.ChannelData,
		"locale":           &a.Locale,
		"text":             &a.Text,
		"summary":          &a.Summary,
		"textFormat":       &a.TextFormat,
		"attachmentLayout": &a.AttachmentLayout,
		"attachments":      &a.Attachments,
		"entities":         &a.Entities,
		"membersAdded":     &a.MembersAdded,
		"membersRemoved":   &a.MembersRemoved,
		"topicName":        &a.TopicName,
		"historyDisclosed": &a.HistoryDisclosed,
		"name":             &a.Name,
		"value":            &a.Value,
	}
}

// MarshalJSON writes the typed fields and merges Extra underneath them.
func (a Activity) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(activityJSON(a), a.Extra)
}

// UnmarshalJSON fills the typed fields and keeps everything else in Extra.
func (a *Activity) UnmarshalJSON(data []byte) error {
	*a = Activity{}
	extra, err := decodeFields(data, a.fields())
	a.Extra = extra
	return err
}

// MarshalJSON writes the account and its extra properties.
func (c ChannelAccount) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(channelAccountJSON(c), c.Extra)
}

// UnmarshalJSON keeps unmodeled account properties in Extra.
func (c *ChannelAccount) UnmarshalJSON(data []byte) error {
	*c = ChannelAccount{}
	extra, err := decodeFields(data, map[string]any{
		"id":   &c.ID,
		"name": &c.Name,
		"role": &c.Role,
	})
	c.Extra = extra
	return err
}

// MarshalJSON writes the conversation reference and its extra properties.
func (c ConversationAccount) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(conversationAccountJSON(c), c.Extra)
}

// UnmarshalJSON keeps unmodeled conversation properties in Extra.
func (c *ConversationAccount) UnmarshalJSON(data []byte) error {
	*c = ConversationAccount{}
	extra, err := decodeFields(data, map[string]any{
		"id":      &c.ID,
		"name":    &c.Name,
		"isGroup": &c.IsGroup,
	})
	c.Extra = extra
	return err
}

// MarshalJSON writes the attachment and its extra properties.
func (at Attachment) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(attachmentJSON(at), at.Extra)
}

// UnmarshalJSON keeps unmodeled attachment properties in Extra.
func (at *Attachment) UnmarshalJSON(data []byte) error {
	*at = Attachment{}
	extra, err := decodeFields(data, map[string]any{
		"contentType":  &at.ContentType,
		"contentUrl":   &at.ContentURL,
		"content":      &at.Content,
		"name":         &at.Name,
		"thumbnailUrl": &at.ThumbnailURL,
	})
	at.Extra = extra
	return err
}

// MarshalJSON writes the entity type and its extra properties.
func (e Entity) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(entityJSON(e), e.Extra)
}

// UnmarshalJSON keeps every property other than type in Extra.
func (e *Entity) UnmarshalJSON(data []byte) error {
	*e = Entity{}
	extra, err := decodeFields(data, map[string]any{"type": &e.Type})
	e.Extra = extra
	return err
}

// Parse decodes a raw JSON payload into an Activity. No schema validation
// is performed: any JSON object is accepted, whatever its fields hold.
func Parse(data []byte) (*Activity, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var a Activity
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Clone returns a deep copy of the activity.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	c := *a
	c.From = a.From.clone()
	c.Recipient = a.Recipient.clone()
	if a.Conversation != nil {
		conv := *a.Conversation
		conv.Extra = cloneExtra(a.Conversation.Extra)
		c.Conversation = &conv
	}
	c.ChannelData = cloneRaw(a.ChannelData)
	c.Value = cloneRaw(a.Value)
	if a.Attachments != nil {
		c.Attachments = make([]Attachment, len(a.Attachments))
		for i, att := range a.Attachments {
			att.Content = cloneRaw(att.Content)
			att.Extra = cloneExtra(att.Extra)
			c.Attachments[i] = att
		}
	}
	if a.Entities != nil {
		c.Entities = make([]Entity, len(a.Entities))
		for i, ent := range a.Entities {
			c.Entities[i] = Entity{Type: ent.Type, Extra: cloneExtra(ent.Extra)}
		}
	}
	c.MembersAdded = cloneAccounts(a.MembersAdded)
	c.MembersRemoved = cloneAccounts(a.MembersRemoved)
	c.Extra = cloneExtra(a.Extra)
	return &c
}

func (c *ChannelAccount) clone() *ChannelAccount {
	if c == nil {
		return nil
	}
	out := *c
	out.Extra = cloneExtra(c.Extra)
	return &out
}

func cloneAccounts(accounts []ChannelAccount) []ChannelAccount {
	if accounts == nil {
		return nil
	}
	out := make([]ChannelAccount, len(accounts))
	for i := range accounts {
		out[i] = *accounts[i].clone()
	}
	return out
}

// ConversationID returns the id of the conversation reference, or "".
func (a *Activity) ConversationID() string {
	if a == nil || a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

// LastSeen returns the moment the activity was stamped, preferring the
// client-local timestamp and falling back to the server timestamp.
// ok is false when neither parses.
func (a *Activity) LastSeen() (t time.Time, ok bool) {
	for _, raw := range []string{a.LocalTimestamp, a.Timestamp} {
		if raw == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// decodeFields decodes each key of the JSON object in data into its target
// in fields. It returns the keys the targets cannot represent verbatim:
// unknown keys, values that do not fit their target's type, and empty values
// the encoder would omit. A null payload decodes to nothing.
func decodeFields(data []byte, fields map[string]any) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, ErrNotObject
	}

	var extra map[string]json.RawMessage
	keep := func(k string, raw json.RawMessage) {
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = raw
	}

	for k, raw := range all {
		target, known := fields[k]
		if !known {
			keep(k, raw)
			continue
		}
		v := reflect.ValueOf(target).Elem()
		if err := json.Unmarshal(raw, target); err != nil {
			v.SetZero()
			keep(k, raw)
			continue
		}
		if isEmptyValue(v) {
			keep(k, raw)
		}
	}
	return extra, nil
}

// isEmptyValue reports whether omitempty would drop v.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return v.IsZero()
}

// marshalWithExtra encodes v and adds the extra keys that v does not set.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return base, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, set := merged[k]; !set {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	c := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		c[k] = cloneRaw(v)
	}
	return c
}
