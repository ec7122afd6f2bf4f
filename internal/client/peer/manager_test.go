package peer

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func connectedTo(m *Manager, remote ID) func() bool {
	return func() bool {
		s, ok := m.State(remote)
		return ok && s == Connected
	}
}

func TestTwoPeersConnect(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	a := n.add("a", 3)
	b := n.add("b", 3)

	b.Expect("a")
	a.Connect("b")

	require.Eventually(t, connectedTo(a, "b"), waitFor, 5*time.Millisecond)
	require.Eventually(t, connectedTo(b, "a"), waitFor, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return n.events["b"].count(EventTrack, "a") == 2 }, waitFor, 5*time.Millisecond)

	// Each side sent its candidate after its description.
	ab := n.dialers["a"].last("b")
	ba := n.dialers["b"].last("a")
	assert.Eventually(t, func() bool {
		_, _, got, _, _ := ba.snapshot()
		return got == 1
	}, waitFor, 5*time.Millisecond)
	_, _, _, early, _ := ab.snapshot()
	assert.Zero(t, early)
	_, _, _, early, _ = ba.snapshot()
	assert.Zero(t, early)
}

// A joiner connects to every existing member. Any N-member room ends up with
// N(N-1)/2 connections and a departure leaves (N-1)(N-2)/2.
func TestFullMesh(t *testing.T) {
	for _, size := range []int{2, 3, 5} {
		t.Run(fmt.Sprintf("n=%d", size), func(t *testing.T) {
			n := newFakeNet()
			defer n.closeAll()

			var ids []ID
			for i := 0; i < size; i++ {
				id := ID(fmt.Sprintf("p%d", i))
				m := n.add(id, 3)
				for _, existing := range ids {
					n.managers[existing].Expect(id)
					m.Connect(existing)
				}
				ids = append(ids, id)
			}

			for _, id := range ids {
				for _, other := range ids {
					if id != other {
						require.Eventually(t, connectedTo(n.managers[id], other), waitFor, 5*time.Millisecond, "%s->%s", id, other)
					}
				}
			}
			assert.Equal(t, size*(size-1)/2, liveConnections(n, ids)/2)

			gone := ids[len(ids)-1]
			n.managers[gone].CloseAll()
			rest := ids[:len(ids)-1]
			for _, id := range rest {
				n.managers[id].Remove(gone)
			}
			assert.Eventually(t, func() bool {
				return liveConnections(n, rest)/2 == (size-1)*(size-2)/2
			}, waitFor, 5*time.Millisecond)
			for _, id := range rest {
				assert.Len(t, n.managers[id].Peers(), size-2)
			}
		})
	}
}

func liveConnections(n *fakeNet, ids []ID) int {
	total := 0
	for _, id := range ids {
		for _, c := range n.dialers[id].all() {
			connected, closed, _, _, _ := c.snapshot()
			if connected && !closed {
				total++
			}
		}
	}
	return total
}

func TestRemoteCandidatesQueuedUntilOffer(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	b := n.add("b", 3)
	b.Expect("a")

	cand, err := json.Marshal(Payload{Epoch: 1, Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:early"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeCandidate, From: "a", Payload: cand})

	offer, err := json.Marshal(Payload{Epoch: 1, SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeOffer, From: "a", Payload: offer})

	require.Eventually(t, func() bool { return n.dialers["b"].last("a") != nil }, waitFor, 5*time.Millisecond)
	conn := n.dialers["b"].last("a")
	assert.Eventually(t, func() bool {
		_, _, got, early, _ := conn.snapshot()
		return got == 1 && early == 0
	}, waitFor, 5*time.Millisecond)
}

func TestUnknownPeerSignals(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	b := n.add("b", 3)

	cand, err := json.Marshal(Payload{Epoch: 1, Candidate: &webrtc.ICECandidateInit{Candidate: "c"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeAnswer, From: "ghost", Payload: cand})
	b.HandleSignal(protocol.Signal{Type: protocol.TypeOffer, From: "x", Payload: json.RawMessage(`not json`)})
	assert.Empty(t, b.Peers())

	offer, err := json.Marshal(Payload{Epoch: 1, SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeOffer, From: "stranger", Payload: offer})
	assert.Equal(t, []ID{"stranger"}, b.Peers())
}

func TestCandidateBeforeOfferCreatesLink(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	b := n.add("b", 3)

	cand, err := json.Marshal(Payload{Epoch: 1, Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:a"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeCandidate, From: "a", Payload: cand})
	assert.Equal(t, []ID{"a"}, b.Peers())
	assert.Zero(t, n.dialers["b"].dialCount(), "no connection before the offer")

	offer, err := json.Marshal(Payload{Epoch: 1, SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeOffer, From: "a", Payload: offer})

	require.Eventually(t, func() bool {
		c := n.dialers["b"].last("a")
		if c == nil {
			return false
		}
		_, _, applied, _, _ := c.snapshot()
		return applied == 1
	}, waitFor, 5*time.Millisecond)
	_, _, _, early, _ := n.dialers["b"].last("a").snapshot()
	assert.Zero(t, early, "queued candidate applied after the offer")
	assert.Equal(t, []ID{"a"}, b.Peers())
}

func TestReconnectBumpsEpoch(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	a := n.add("a", 3)
	b := n.add("b", 3)
	b.Expect("a")
	a.Connect("b")
	require.Eventually(t, connectedTo(b, "a"), waitFor, 5*time.Millisecond)
	require.Eventually(t, connectedTo(a, "b"), waitFor, 5*time.Millisecond)

	first := n.dialers["b"].last("a")
	n.dialers["a"].last("b").fail()

	require.Eventually(t, func() bool { return n.dialers["b"].last("a") != first }, waitFor, 5*time.Millisecond)
	require.Eventually(t, connectedTo(b, "a"), waitFor, 5*time.Millisecond)
	require.Eventually(t, connectedTo(a, "b"), waitFor, 5*time.Millisecond)

	_, closed, _, _, _ := first.snapshot()
	assert.True(t, closed, "answerer link replaced by the higher epoch offer")
	assert.GreaterOrEqual(t, n.events["a"].count(EventRemoteRemoved, "b"), 1)
	assert.GreaterOrEqual(t, n.events["b"].count(EventRemoteRemoved, "a"), 1)

	// A late epoch-1 candidate must not reach the new connection.
	current := n.dialers["b"].last("a")
	_, _, before, _, _ := current.snapshot()
	stale, err := json.Marshal(Payload{Epoch: 1, Candidate: &webrtc.ICECandidateInit{Candidate: "old"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeCandidate, From: "a", Payload: stale})
	staleOffer, err := json.Marshal(Payload{Epoch: 1, SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "old"}})
	require.NoError(t, err)
	b.HandleSignal(protocol.Signal{Type: protocol.TypeOffer, From: "a", Payload: staleOffer})

	time.Sleep(20 * time.Millisecond)
	_, closed, after, _, _ := current.snapshot()
	assert.Equal(t, before, after)
	assert.False(t, closed)
	assert.Same(t, current, n.dialers["b"].last("a"))
}

func TestRetriesExhausted(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	a := n.add("a", 2)
	n.dialers["a"].setFail(true)

	a.Connect("b")
	require.Eventually(t, func() bool {
		s, _ := a.State("b")
		return s == Failed
	}, waitFor, 5*time.Millisecond)

	ev, ok := n.events["a"].find(EventFailed)
	require.True(t, ok)
	assert.ErrorIs(t, ev.Err, ErrRetriesExhausted)
	assert.Equal(t, ID("b"), ev.Peer)
	// One initial attempt plus two retries.
	assert.Equal(t, 3, n.dialers["a"].dialCount())
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	a := n.add("a", 10)
	b := n.add("b", 3)
	b.Expect("a")
	n.dialers["a"].setFail(true)

	a.Connect("b")
	require.Eventually(t, func() bool { return n.dialers["a"].dialCount() >= 2 }, waitFor, time.Millisecond)
	n.dialers["a"].setFail(false)

	require.Eventually(t, connectedTo(a, "b"), waitFor, 5*time.Millisecond)
	_, failed := n.events["a"].find(EventFailed)
	assert.False(t, failed)
}

func TestCallbacksAfterRemoveAreDiscarded(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	a := n.add("a", 3)
	b := n.add("b", 3)
	b.Expect("a")
	a.Connect("b")
	require.Eventually(t, connectedTo(a, "b"), waitFor, 5*time.Millisecond)

	old := n.dialers["a"].last("b")
	a.Remove("b")
	require.Eventually(t, func() bool {
		_, closed, _, _, _ := old.snapshot()
		return closed
	}, waitFor, 5*time.Millisecond)

	tracks := n.events["a"].count(EventTrack, "b")
	old.cb.OnTrack(RemoteTrack{Kind: webrtc.RTPCodecTypeVideo})
	old.cb.OnStateChange(webrtc.PeerConnectionStateFailed)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, tracks, n.events["a"].count(EventTrack, "b"))
	_, ok := a.State("b")
	assert.False(t, ok)
	assert.Equal(t, 1, n.dialers["a"].dialCount())
}

func TestOfferCollision(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	a := n.add("a", 3)
	b := n.add("b", 3)

	a.Connect("b")
	b.Connect("a")

	require.Eventually(t, connectedTo(a, "b"), waitFor, 5*time.Millisecond)
	require.Eventually(t, connectedTo(b, "a"), waitFor, 5*time.Millisecond)
}

func TestReplaceVideoReachesEveryLink(t *testing.T) {
	n := newFakeNet()
	defer n.closeAll()
	a := n.add("a", 3)
	for _, id := range []ID{"b", "c"} {
		n.add(id, 3).Expect("a")
		a.Connect(id)
	}
	require.Eventually(t, connectedTo(a, "b"), waitFor, 5*time.Millisecond)
	require.Eventually(t, connectedTo(a, "c"), waitFor, 5*time.Millisecond)

	screen, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "huddle")
	require.NoError(t, err)
	a.ReplaceVideo(screen)

	for _, id := range []ID{"b", "c"} {
		conn := n.dialers["a"].last(id)
		assert.Eventually(t, func() bool {
			_, _, _, _, video := conn.snapshot()
			return video == screen
		}, waitFor, 5*time.Millisecond)
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.True(t, Offering.Negotiating())
	assert.True(t, Failed.Terminal())
	assert.False(t, Connected.Terminal())
}
