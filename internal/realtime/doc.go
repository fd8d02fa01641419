// Package realtime provides the per-conversation broadcast channels behind
// the Direct Line stream endpoint.
//
// # Lifecycle
//
// A channel is opened when its conversation is created and closed when the
// conversation is deleted or reaped:
//
//	reg := realtime.NewRegistry(logger)
//	reg.Open(convID)
//	ch, subID, err := reg.Subscribe(ctx, convID) // ErrChannelNotOpen if absent
//	reg.Publish(convID, act)
//	reg.Close(convID) // closes every subscriber channel
//
// # Delivery
//
// Publish is best-effort. Each subscriber has a 64-activity buffer; when it
// is full the activity is dropped for that subscriber only. Clients that
// need a complete history poll the activities endpoint with a watermark.
package realtime
