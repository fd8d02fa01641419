// Package gateway serves the Direct Line surface of directline-relay.
//
// # Overview
//
// The Gateway owns every runtime component: the store, the realtime channel
// registry, the conversation relay, the bot state service, the reaper and
// the HTTP server. New wires them from a config.Config; Run opens the
// listener (plain TCP or a tsnet node) and blocks until the context ends.
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx)
//
// # Client API
//
// Served under both /directline and /v3/directline:
//
//	POST   /conversations                       start a conversation
//	GET    /conversations/{id}                  reconnect
//	DELETE /conversations/{id}                  end a conversation
//	GET    /conversations/{id}/activities       poll with ?watermark=N
//	POST   /conversations/{id}/activities       send an activity to the bot
//	GET    /conversations/{id}/stream           WebSocket stream
//	POST   /tokens/generate                     mint a conversation token
//	POST   /tokens/refresh                      refresh a token
//
// plus GET /directline/stream?id={id}, the stream URL handed to clients.
// When auth.secret is set these routes require a bearer secret or token.
//
// # Bot API
//
//	POST /v3/conversations/{id}/activities[/{activityId}]
//	GET|POST /v3/botstate/{channel}/users/{user}
//	GET|POST /v3/botstate/{channel}/conversations/{conversation}[/users/{user}]
//	DELETE   /v3/botstate/{channel}/users/{user}
//
// Bot routes are never authenticated.
//
// # Status Codes
//
//   - Unknown conversation: 400 (404 on the stream handshake)
//   - Bot unreachable: 502
//   - Bot answered non-2xx: that status, unchanged
//   - Store failure: 500
//   - Placeholder routes (upload, members, conversation create on /v3/conversations): 501
package gateway
