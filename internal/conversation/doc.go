// Package conversation owns chat session state: history, watermark, membership.
//
// # Conversation
//
// A Conversation is one active session between the local tester and a bot
// endpoint. Every posted activity passes through a single normalization point
// that assigns an id and timestamp, applies defaulting rules (from.name "Bot",
// recipient.role "user", the configured locale), forces the nested payload
// role on ReceivedActivity/SentActivity wrappers, and stamps the activity with
// the next watermark value. The watermark increases strictly by 1 per insert
// and resets to 0 only on re-key.
//
// Conversation mode picks the opening activity: debug mode seeds a single
// "/INSPECT open" command message, every other mode seeds a conversationUpdate
// carrying the full member list. Generated conversation ids embed the mode as
// a suffix (`<token>|<mode>`) so it can be recovered from the id alone.
//
// # Registry
//
// The Registry maps conversation ids to live objects. Re-keying deletes the
// old key and reinserts the same object under the new key, so a reference
// captured before the re-key observes the new identity afterwards and the
// registry never holds two keys to one conversation.
package conversation
