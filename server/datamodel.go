/******************************************************************************
 *
 *  Description :
 *
 *  Definition of messages exchanged between the relay and its clients.
 *  Every frame is a single flat JSON object with a mandatory 'type'
 *  discriminator. Payload fields (content, timestamp, file metadata) are
 *  opaque to the relay and are forwarded without interpretation.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
)

// Client to server message types. ADD_FRIEND and ACCEPT_FRIEND are legacy
// aliases kept for older clients which also address the peer with the 'to'
// field instead of targetId/requesterId.
const (
	MsgFriendRequest = "FRIEND_REQUEST"
	MsgAddFriend     = "ADD_FRIEND"
	MsgFriendAccept  = "FRIEND_ACCEPT"
	MsgAcceptFriend  = "ACCEPT_FRIEND"
	MsgMessage       = "MESSAGE"
	MsgTyping        = "TYPING"
	MsgFileStart     = "FILE_START"
	MsgFileChunk     = "FILE_CHUNK"
	MsgFileEnd       = "FILE_END"
)

// Server to client message types.
const (
	MsgWelcome = "WELCOME"
	MsgError   = "ERROR"
)

// ClientComMessage is a single inbound frame after decoding.
type ClientComMessage struct {
	Type string `json:"type"`

	// FRIEND_REQUEST: session id of the peer to befriend.
	TargetId string `json:"targetId,omitempty"`
	// FRIEND_ACCEPT: session id of the peer whose request is accepted.
	RequesterId string `json:"requesterId,omitempty"`
	// MESSAGE, TYPING, FILE_*: session id of the recipient. Also the
	// addressing field of the ADD_FRIEND/ACCEPT_FRIEND aliases.
	To string `json:"to,omitempty"`

	// Sender's armored public key, forwarded during the handshake.
	PublicKey string `json:"publicKey,omitempty"`
	// MESSAGE: encrypted payload, opaque to the relay.
	Content json.RawMessage `json:"content,omitempty"`
	// MESSAGE: client-supplied timestamp, forwarded verbatim.
	Timestamp json.RawMessage `json:"timestamp,omitempty"`

	// Runtime state, not a part of the wire format.

	// Undecoded frame, kept for verbatim forwarding of FILE_* payloads.
	raw []byte
	// Session id of the sender, stamped by the dispatcher. Handlers address
	// and attribute by this field, never by a client-supplied value.
	from string
}

// ServerComMessage is a single outbound frame. The relay always sets 'from'
// on anything it forwards, regardless of what the sender supplied.
type ServerComMessage struct {
	Type string `json:"type"`

	// WELCOME: the id assigned to the newly connected session.
	UserId string `json:"userId,omitempty"`
	// Session id of the originator of a forwarded frame.
	From string `json:"from,omitempty"`
	// ERROR: human-readable reason.
	Message string `json:"message,omitempty"`

	PublicKey string          `json:"publicKey,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// NoErrWelcome is sent to a session right after it's registered.
func NoErrWelcome(uid string) *ServerComMessage {
	return &ServerComMessage{Type: MsgWelcome, UserId: uid}
}

// ErrSelfRequest: friend request addressed to the sender itself.
func ErrSelfRequest() *ServerComMessage {
	return &ServerComMessage{Type: MsgError, Message: "You cannot add yourself."}
}

// ErrTargetNotFound: friend request target is not a registered session.
func ErrTargetNotFound() *ServerComMessage {
	return &ServerComMessage{Type: MsgError, Message: "User not found or offline."}
}

// ErrRequesterGone: the requester disconnected before the accept arrived.
func ErrRequesterGone() *ServerComMessage {
	return &ServerComMessage{Type: MsgError, Message: "Requester is no longer online."}
}

// ErrNotFriends: message addressed to a session which is not a friend.
func ErrNotFriends() *ServerComMessage {
	return &ServerComMessage{Type: MsgError, Message: "You are not friends with this user."}
}

// ErrRecipientOffline: message addressed to a friend who has disconnected.
func ErrRecipientOffline() *ServerComMessage {
	return &ServerComMessage{Type: MsgError, Message: "User is offline."}
}

// ErrFileRecipientOffline: FILE_START addressed to an unregistered session.
func ErrFileRecipientOffline() *ServerComMessage {
	return &ServerComMessage{Type: MsgError, Message: "User is offline. File transfer failed."}
}
