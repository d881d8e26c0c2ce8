/******************************************************************************
 *
 *  Description :
 *
 *  Handling of client sessions. A session is a single websocket connection
 *  with a relay-assigned id. Inbound frames are decoded here and routed to
 *  the addressee's session; the relay never inspects payload content.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/veilchat/relay/server/logs"
)

const (
	// Size of the buffered channel of outbound frames per session.
	sendQueueLimit = 128
)

// Session represents a single websocket connection.
type Session struct {
	// Websocket connection. Nil in tests.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Session ID: a 6-character token assigned at registration. The only
	// identity a client ever has; never reused while the session is live.
	uid string

	// Time when the session received any frame from the client.
	lastAction time.Time

	// Outbound frames, buffered. The content must be serialized before
	// queueing, except via queueOut which serializes itself.
	send chan any

	// Channel for shutting down the session, buffer 1.
	stop chan any
}

// routeStatus is the outcome of routing one inbound frame. The dispatcher
// uses it to decide between replying to the sender, logging, or silence.
type routeStatus int

const (
	// routeOk: frame forwarded to the addressee.
	routeOk routeStatus = iota
	// routeDenied: authorization failure (self-request, not a friend).
	routeDenied
	// routeOffline: the addressee is not a registered session.
	routeOffline
	// routeIgnored: unknown message type, dropped.
	routeIgnored
	// routeMalformed: frame could not be decoded.
	routeMalformed
)

// queueOut attempts to send a ServerComMessage to a session; if the send
// buffer is full, timeout is 50 usec. Delivery is best effort: the relay
// neither tracks nor retries it.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- s.serialize(msg):
	case <-time.After(time.Microsecond * 50):
		logs.Err.Println("s.queueOut: timeout", s.uid)
		return false
	}
	return true
}

// queueOutBytes attempts to send an already serialized frame.
// If the send buffer is full, timeout is 50 usec.
func (s *Session) queueOutBytes(data []byte) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- data:
	case <-time.After(time.Microsecond * 50):
		logs.Err.Println("s.queueOutBytes: timeout", s.uid)
		return false
	}
	return true
}

// cleanUp deregisters the session and terminates its write loop. Called from
// the read loop's deferred exit path, so it runs on every way out: normal
// close, error, shutdown.
func (s *Session) cleanUp() {
	count := globals.sessionStore.Delete(s)
	statsSet("LiveSessions", int64(count))

	// Unblock writeLoop. Non-blocking: Shutdown may have signaled already.
	select {
	case s.stop <- nil:
	default:
	}

	logs.Info.Println("session closed", s.uid, s.remoteAddr)
}

// Frame received, convert bytes to ClientComMessage and dispatch.
func (s *Session) dispatchRaw(raw []byte) {
	var msg ClientComMessage

	toLog := raw
	truncated := ""
	if len(raw) > 512 {
		toLog = raw[:512]
		truncated = "<...>"
	}
	logs.Info.Printf("in: '%s%s' ip='%s' sid='%s'", toLog, truncated, s.remoteAddr, s.uid)

	if err := json.Unmarshal(raw, &msg); err != nil {
		// Malformed frame: log and discard, the connection stays open.
		logs.Warn.Println("s.dispatch: malformed frame", s.uid, err)
		statsInc("MalformedMessagesTotal", 1)
		return
	}

	msg.raw = raw
	s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) {
	s.lastAction = time.Now().UTC().Round(time.Millisecond)
	// The relay is the sole authority on sender identity.
	msg.from = s.uid

	// Legacy aliases address the peer with 'to'.
	switch msg.Type {
	case MsgAddFriend:
		msg.Type = MsgFriendRequest
		if msg.TargetId == "" {
			msg.TargetId = msg.To
		}
	case MsgAcceptFriend:
		msg.Type = MsgFriendAccept
		if msg.RequesterId == "" {
			msg.RequesterId = msg.To
		}
	}

	var handler func(*ClientComMessage) routeStatus
	switch msg.Type {
	case MsgFriendRequest:
		handler = s.friendRequest
	case MsgFriendAccept:
		handler = s.friendAccept
	case MsgMessage:
		handler = s.relayMessage
	case MsgTyping:
		handler = s.typingNote
	case MsgFileStart, MsgFileChunk, MsgFileEnd:
		handler = s.fileRelay
	}

	status := routeIgnored
	if handler != nil {
		status = handler(msg)
	}

	switch status {
	case routeOk:
		statsInc("RoutedMessagesTotal", 1)
	case routeIgnored:
		// Unknown type: no reply, no forward.
		logs.Warn.Println("s.dispatch: unknown message type", msg.Type, s.uid)
		statsInc("IgnoredMessagesTotal", 1)
	case routeMalformed:
		logs.Warn.Println("s.dispatch: undecodable payload", msg.Type, s.uid)
		statsInc("MalformedMessagesTotal", 1)
	case routeDenied, routeOffline:
		statsInc("RejectedMessagesTotal", 1)
		if reply := errorReply(msg.Type, status); reply != nil {
			s.queueOut(reply)
		}
	}
}

// errorReply maps a message type and route status to the ERROR frame sent
// back to the sender. Returns nil for the cases that are dropped silently:
// typing notifications and mid-transfer file frames don't warrant an error
// per dropped frame.
func errorReply(msgType string, status routeStatus) *ServerComMessage {
	switch status {
	case routeDenied:
		switch msgType {
		case MsgFriendRequest:
			return ErrSelfRequest()
		case MsgMessage:
			return ErrNotFriends()
		}
	case routeOffline:
		switch msgType {
		case MsgFriendRequest:
			return ErrTargetNotFound()
		case MsgFriendAccept:
			return ErrRequesterGone()
		case MsgMessage:
			return ErrRecipientOffline()
		case MsgFileStart:
			return ErrFileRecipientOffline()
		}
	}
	return nil
}

// Forward a friend request with the sender's public key to the target.
// No relay-side handshake state: the request only lives in the two clients.
func (s *Session) friendRequest(msg *ClientComMessage) routeStatus {
	if msg.TargetId == msg.from {
		return routeDenied
	}

	target := globals.sessionStore.Get(msg.TargetId)
	if target == nil {
		return routeOffline
	}

	target.queueOut(&ServerComMessage{Type: MsgFriendRequest, From: msg.from, PublicKey: msg.PublicKey})
	logs.Info.Println("friend request", msg.from, "->", msg.TargetId)
	return routeOk
}

// Complete the handshake: establish the symmetric friendship edge and
// forward the acceptor's public key to the requester.
func (s *Session) friendAccept(msg *ClientComMessage) routeStatus {
	requester := globals.sessionStore.Befriend(msg.from, msg.RequesterId)
	if requester == nil {
		// Requester disconnected mid-handshake. No edge was created.
		return routeOffline
	}

	statsInc("FriendshipsTotal", 1)
	requester.queueOut(&ServerComMessage{Type: MsgFriendAccept, From: msg.from, PublicKey: msg.PublicKey})
	logs.Info.Println("friendship established", msg.from, "<->", msg.RequesterId)
	return routeOk
}

// Forward an encrypted message to a friend. Friendship is checked first so a
// former friend who disconnected reads as offline, not as a stranger.
func (s *Session) relayMessage(msg *ClientComMessage) routeStatus {
	if !globals.sessionStore.AreFriends(msg.from, msg.To) {
		return routeDenied
	}

	target := globals.sessionStore.Get(msg.To)
	if target == nil {
		return routeOffline
	}

	target.queueOut(&ServerComMessage{
		Type:      MsgMessage,
		From:      msg.from,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	return routeOk
}

// Forward a transient typing notification. Friendship is not enforced and
// an offline target is not an error.
func (s *Session) typingNote(msg *ClientComMessage) routeStatus {
	target := globals.sessionStore.Get(msg.To)
	if target == nil {
		return routeOffline
	}

	target.queueOut(&ServerComMessage{Type: MsgTyping, From: msg.from})
	return routeOk
}

// Forward a file transfer frame verbatim with 'from' overwritten. Chunk
// payloads and file metadata are opaque to the relay, so the frame is
// re-encoded from the raw bytes rather than from the typed message.
func (s *Session) fileRelay(msg *ClientComMessage) routeStatus {
	target := globals.sessionStore.Get(msg.To)
	if target == nil {
		return routeOffline
	}

	var frame map[string]any
	if err := json.Unmarshal(msg.raw, &frame); err != nil {
		return routeMalformed
	}
	frame["from"] = msg.from

	data, err := json.Marshal(frame)
	if err != nil {
		return routeMalformed
	}
	target.queueOutBytes(data)
	return routeOk
}

func (s *Session) serialize(msg *ServerComMessage) any {
	out, _ := json.Marshal(msg)
	return out
}
