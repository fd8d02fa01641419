// Package activity defines the Direct Line activity model and the stamping
// rules the relay applies to it.
//
// # Activities
//
// An Activity is a JSON object with a type tag. Fields the relay knows about
// are typed; everything else lands in Extra and is written back out
// unchanged, so clients and bots can exchange payloads the relay never
// inspects. Nested accounts, attachments and entities keep their own Extra.
// A known key whose value has an unexpected JSON type, or an empty value
// such as "text":"", is kept in Extra as sent:
//
//	a, err := activity.Parse(body) // ErrNotObject unless body is an object
//	a.Text          // typed
//	a.Extra["x-y"]  // passthrough
//
// # Stamping
//
// A Stamper owns the fields the relay is responsible for:
//
//   - StampClient: fresh id, channelId "emulator", serviceUrl, conversation.id
//   - StampBot: fresh id and the bot sender in from
//   - ConversationUpdate: the join announcement sent when a conversation starts
//
// All stamping functions return copies. timestamp is always set to the
// relay's clock; localTimestamp is only filled when the sender left it empty.
package activity
