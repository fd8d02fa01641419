// Package conversation implements the Direct Line conversation relay.
//
// # Overview
//
// The Service sits between the HTTP/WebSocket handlers and the bot. It owns
// the conversation lifecycle (absent -> active -> evicted), appends
// activities to each conversation's history and forwards client activities
// to the bot over HTTP.
//
//	relay := conversation.New(store, registry, botClient, conversation.Config{
//		ServiceURL: "http://127.0.0.1:3000",
//	}, logger)
//
// Key operations:
//
//   - CreateConversation(ctx): new ID, empty history, open stream channel, announce to bot
//   - StartConversation(ctx, id): the same with a chosen ID; existing conversations are returned as-is
//   - GetActivitiesSince(ctx, id, watermark): history[watermark:] and the new watermark
//   - RelayClientActivity(ctx, id, a): stamp, record, broadcast, POST to bot
//   - RelayBotActivity(ctx, id, a): stamp with the bot sender, record, broadcast
//   - DeleteConversation(ctx, id): drop the record and end stream subscriptions
//   - Subscribe(ctx, id): attach a stream subscriber
//
// # Watermarks
//
// The watermark is the number of activities in a conversation's history.
// It is derived, never stored. Polling with the returned watermark drains
// every activity exactly once, in append order.
//
// # Record First
//
// Activities are appended and persisted before the bot is contacted and
// before the HTTP response is written. Broadcasting happens under the same
// per-conversation lock but never blocks, so a slow stream subscriber
// cannot delay a poster.
//
// # Errors
//
//   - ErrConversationNotFound: unknown conversation (lenient mode creates it for client activities)
//   - ErrBotUnreachable: the bot could not be reached; nothing is retried
//   - *BotRejectedError: the bot answered non-2xx; Status is passed through verbatim
//   - store.ErrUnavailable (wrapped): the backend failed
package conversation
