// Package botstate implements the bot state API on top of the store's
// botData namespace.
//
// Records are addressed by a scope key "$<channel>!<conversation>!<user>",
// where a missing component is "*". That gives user, conversation and
// private-conversation buckets one key space.
//
// Every successful write gets a new eTag (wall clock milliseconds, bumped
// to stay strictly increasing). Writing empty data deletes the record and
// reports eTag "*"; reading an absent record returns {data: null, eTag: "*"}.
package botstate
