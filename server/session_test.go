package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type Responses struct {
	messages []any
}

func (s *Session) testWriteLoop(results *Responses, wg *sync.WaitGroup) {
	for msg := range s.send {
		results.messages = append(results.messages, msg)
	}
	wg.Done()
}

// testSession registers a session with the global store and starts a capture
// loop in place of the websocket write loop.
func testSession(t *testing.T, wg *sync.WaitGroup) (*Session, *Responses) {
	t.Helper()
	s, _ := globals.sessionStore.NewSession(nil)
	r := &Responses{}
	wg.Add(1)
	go s.testWriteLoop(r, wg)
	return s, r
}

// decodeFrames converts captured raw frames into generic maps for comparison.
func decodeFrames(t *testing.T, r *Responses) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, msg := range r.messages {
		raw, ok := msg.([]byte)
		if !ok {
			t.Fatalf("captured message is %T, expected []byte", msg)
		}
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("captured message is not valid JSON: %v", err)
		}
		out = append(out, frame)
	}
	return out
}

func expectError(t *testing.T, r *Responses, text string) {
	t.Helper()
	frames := decodeFrames(t, r)
	if len(frames) != 1 {
		t.Fatalf("responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{"type": "ERROR", "message": text}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected reply (-want +got):\n%s", diff)
	}
}

func expectSilence(t *testing.T, r *Responses) {
	t.Helper()
	if len(r.messages) != 0 {
		t.Fatalf("expected no messages, received %d", len(r.messages))
	}
}

func TestWelcomeFrame(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	s, r := testSession(t, &wg)

	s.queueOut(NoErrWelcome(s.uid))
	close(s.send)
	wg.Wait()

	frames := decodeFrames(t, r)
	if len(frames) != 1 {
		t.Fatalf("responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{"type": "WELCOME", "userId": s.uid}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected welcome (-want +got):\n%s", diff)
	}
}

func TestFriendRequestForwarded(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, rb := testSession(t, &wg)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"FRIEND_REQUEST","targetId":%q,"publicKey":"pkA"}`, b.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	expectSilence(t, ra)
	frames := decodeFrames(t, rb)
	if len(frames) != 1 {
		t.Fatalf("target responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{"type": "FRIEND_REQUEST", "from": a.uid, "publicKey": "pkA"}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected forward (-want +got):\n%s", diff)
	}
}

func TestFriendRequestToSelf(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"FRIEND_REQUEST","targetId":%q,"publicKey":"pkA"}`, a.uid)))
	close(a.send)
	wg.Wait()

	expectError(t, ra, "You cannot add yourself.")
}

func TestFriendRequestTargetOffline(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)

	a.dispatchRaw([]byte(`{"type":"FRIEND_REQUEST","targetId":"ZZZZZZ","publicKey":"pkA"}`))
	close(a.send)
	wg.Wait()

	expectError(t, ra, "User not found or offline.")
}

func TestFriendAcceptEstablishesFriendship(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, rb := testSession(t, &wg)

	// B accepts A's request.
	b.dispatchRaw([]byte(fmt.Sprintf(`{"type":"FRIEND_ACCEPT","requesterId":%q,"publicKey":"pkB"}`, a.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	expectSilence(t, rb)
	frames := decodeFrames(t, ra)
	if len(frames) != 1 {
		t.Fatalf("requester responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{"type": "FRIEND_ACCEPT", "from": b.uid, "publicKey": "pkB"}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected forward (-want +got):\n%s", diff)
	}

	if !globals.sessionStore.AreFriends(a.uid, b.uid) || !globals.sessionStore.AreFriends(b.uid, a.uid) {
		t.Error("friendship is not symmetric after accept")
	}
}

func TestFriendAcceptRequesterGone(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, _ := testSession(t, &wg)
	b, rb := testSession(t, &wg)

	globals.sessionStore.Delete(a)
	close(a.send)

	b.dispatchRaw([]byte(fmt.Sprintf(`{"type":"FRIEND_ACCEPT","requesterId":%q,"publicKey":"pkB"}`, a.uid)))
	close(b.send)
	wg.Wait()

	expectError(t, rb, "Requester is no longer online.")
	if globals.sessionStore.AreFriends(b.uid, a.uid) {
		t.Error("edge created despite the requester being offline")
	}
}

func TestMessageRequiresFriendship(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	c, rc := testSession(t, &wg)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"MESSAGE","to":%q,"content":"hi"}`, c.uid)))
	close(a.send)
	close(c.send)
	wg.Wait()

	expectError(t, ra, "You are not friends with this user.")
	expectSilence(t, rc)
}

func TestMessageForwardedBetweenFriends(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, rb := testSession(t, &wg)
	globals.sessionStore.Befriend(a.uid, b.uid)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"MESSAGE","to":%q,"content":"0xDEAD","timestamp":1712345678901}`, b.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	expectSilence(t, ra)
	frames := decodeFrames(t, rb)
	if len(frames) != 1 {
		t.Fatalf("recipient responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{
		"type":      "MESSAGE",
		"from":      a.uid,
		"content":   "0xDEAD",
		"timestamp": float64(1712345678901),
	}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected forward (-want +got):\n%s", diff)
	}
}

func TestMessageToOfflineFriend(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, _ := testSession(t, &wg)
	globals.sessionStore.Befriend(a.uid, b.uid)

	globals.sessionStore.Delete(b)
	close(b.send)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"MESSAGE","to":%q,"content":"hi"}`, b.uid)))
	close(a.send)
	wg.Wait()

	expectError(t, ra, "User is offline.")
}

func TestTypingForwardedWithoutFriendship(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, rb := testSession(t, &wg)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"TYPING","to":%q}`, b.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	expectSilence(t, ra)
	frames := decodeFrames(t, rb)
	if len(frames) != 1 {
		t.Fatalf("recipient responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{"type": "TYPING", "from": a.uid}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected forward (-want +got):\n%s", diff)
	}
}

func TestTypingToOfflineTargetIsSilent(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)

	a.dispatchRaw([]byte(`{"type":"TYPING","to":"ZZZZZZ"}`))
	close(a.send)
	wg.Wait()

	expectSilence(t, ra)
}

func TestFileStartToOfflineTarget(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)

	a.dispatchRaw([]byte(`{"type":"FILE_START","to":"ZZZZZZ","fileName":"x.bin"}`))
	close(a.send)
	wg.Wait()

	expectError(t, ra, "User is offline. File transfer failed.")
}

func TestFileChunkToOfflineTargetIsSilent(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)

	a.dispatchRaw([]byte(`{"type":"FILE_CHUNK","to":"ZZZZZZ","chunk":"AAAA"}`))
	a.dispatchRaw([]byte(`{"type":"FILE_END","to":"ZZZZZZ"}`))
	close(a.send)
	wg.Wait()

	expectSilence(t, ra)
}

// File frames are forwarded verbatim, unknown metadata included; only 'from'
// is stamped by the relay, overwriting whatever the sender put there.
func TestFileFrameForwardedVerbatim(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, _ := testSession(t, &wg)
	b, rb := testSession(t, &wg)

	a.dispatchRaw([]byte(fmt.Sprintf(
		`{"type":"FILE_START","to":%q,"from":"SPOOFED","fileName":"x.bin","fileSize":1234,"mime":"application/octet-stream"}`,
		b.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	frames := decodeFrames(t, rb)
	if len(frames) != 1 {
		t.Fatalf("recipient responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{
		"type":     "FILE_START",
		"to":       b.uid,
		"from":     a.uid,
		"fileName": "x.bin",
		"fileSize": float64(1234),
		"mime":     "application/octet-stream",
	}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected forward (-want +got):\n%s", diff)
	}
}

func TestAddFriendAlias(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, _ := testSession(t, &wg)
	b, rb := testSession(t, &wg)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"ADD_FRIEND","to":%q,"publicKey":"pkA"}`, b.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	frames := decodeFrames(t, rb)
	if len(frames) != 1 {
		t.Fatalf("target responses: expected 1, received %d", len(frames))
	}
	want := map[string]any{"type": "FRIEND_REQUEST", "from": a.uid, "publicKey": "pkA"}
	if diff := cmp.Diff(want, frames[0]); diff != "" {
		t.Errorf("unexpected forward (-want +got):\n%s", diff)
	}
}

func TestAcceptFriendAlias(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, _ := testSession(t, &wg)

	b.dispatchRaw([]byte(fmt.Sprintf(`{"type":"ACCEPT_FRIEND","to":%q,"publicKey":"pkB"}`, a.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	frames := decodeFrames(t, ra)
	if len(frames) != 1 {
		t.Fatalf("requester responses: expected 1, received %d", len(frames))
	}
	if frames[0]["type"] != "FRIEND_ACCEPT" {
		t.Errorf("forward type: expected FRIEND_ACCEPT, got %v", frames[0]["type"])
	}
	if !globals.sessionStore.AreFriends(a.uid, b.uid) {
		t.Error("alias accept did not establish friendship")
	}
}

func TestMalformedFrameIgnored(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)

	a.dispatchRaw([]byte(`{"type":`))
	a.dispatchRaw([]byte(`[1, 2, 3]`))
	close(a.send)
	wg.Wait()

	// Malformed input is logged and discarded, the session stays usable.
	expectSilence(t, ra)
	if globals.sessionStore.Get(a.uid) != a {
		t.Error("session deregistered by a malformed frame")
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, rb := testSession(t, &wg)

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"SELF_DESTRUCT","to":%q}`, b.uid)))
	close(a.send)
	close(b.send)
	wg.Wait()

	expectSilence(t, ra)
	expectSilence(t, rb)
}

// After a disconnect the session id reads as offline to everyone who still
// holds a membership referencing it.
func TestDisconnectCleanup(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	wg := sync.WaitGroup{}
	a, ra := testSession(t, &wg)
	b, _ := testSession(t, &wg)
	globals.sessionStore.Befriend(a.uid, b.uid)

	b.cleanUp()
	close(b.send)

	if globals.sessionStore.Get(b.uid) != nil {
		t.Fatal("Get resolved a closed session")
	}

	a.dispatchRaw([]byte(fmt.Sprintf(`{"type":"MESSAGE","to":%q,"content":"hi"}`, b.uid)))
	close(a.send)
	wg.Wait()

	expectError(t, ra, "User is offline.")
}
