package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/lexiqai/interviewer/internal/transcript"
	"github.com/lexiqai/interviewer/internal/visualizer"
)

// loopbackAPI lets two peers in one process find each other without a LAN
func loopbackAPI() *webrtc.API {
	settings := webrtc.SettingEngine{}
	settings.SetIncludeLoopbackCandidate(true)
	settings.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	return webrtc.NewAPI(webrtc.WithSettingEngine(settings))
}

// answerer plays the hosted endpoint: it accepts the offer over HTTP and
// hands back the events channel once it opens
type answerer struct {
	mu       sync.Mutex
	peers    []*webrtc.PeerConnection
	channels chan *webrtc.DataChannel
	received chan string
	auth     chan string
}

func newAnswerer() *answerer {
	return &answerer{
		channels: make(chan *webrtc.DataChannel, 1),
		received: make(chan string, 8),
		auth:     make(chan string, 1),
	}
}

func (a *answerer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.auth <- r.Header.Get("Authorization")

	offer, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pc, err := loopbackAPI().NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.mu.Lock()
	a.peers = append(a.peers, pc)
	a.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { a.channels <- dc })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			a.received <- string(msg.Data)
		})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offer)}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	<-gatherComplete

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(pc.LocalDescription().SDP))
}

func (a *answerer) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pc := range a.peers {
		_ = pc.Close()
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnect_EndToEnd(t *testing.T) {
	remote := newAnswerer()
	server := httptest.NewServer(remote)
	defer server.Close()
	defer remote.close()

	reconciler := transcript.NewReconciler(visualizer.NewFeed())

	conn, err := Connect(context.Background(), Config{
		BaseURL:            server.URL,
		Model:              "gpt-4o-realtime-preview-2024-12-17",
		Voice:              "alloy",
		NegotiationTimeout: 10 * time.Second,
		API:                loopbackAPI(),
	}, "ek_test", reconciler, nil, testLogger())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if got := <-remote.auth; got != "Bearer ek_test" {
		t.Errorf("Expected bearer token on the offer, got %q", got)
	}

	var dc *webrtc.DataChannel
	select {
	case dc = <-remote.channels:
	case <-time.After(10 * time.Second):
		t.Fatal("Data channel never opened")
	}
	if dc.Label() != "response" {
		t.Errorf("Expected data channel %q, got %q", "response", dc.Label())
	}

	select {
	case msg := <-remote.received:
		var update SessionUpdate
		if err := json.Unmarshal([]byte(msg), &update); err != nil {
			t.Fatalf("Expected JSON session update, got %q", msg)
		}
		if update.Type != EventSessionUpdate || strings.Join(update.Session.Modalities, ",") != "text,audio" {
			t.Errorf("Unexpected session update %s", msg)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("No session update after the channel opened")
	}

	waitUntil(t, "connected status", func() bool {
		return reconciler.Flags().SessionStatus == StatusConnected
	})

	const question = "Tell me about a project you led."
	for _, event := range []string{
		`{"type":"response.created"}`,
		`{"type":"response.audio_transcript.delta","delta":"` + question + `"}`,
	} {
		if err := dc.SendText(event); err != nil {
			t.Fatalf("SendText failed: %v", err)
		}
	}

	waitUntil(t, "pending AI text", func() bool { return reconciler.Pending() == question })
	if len(reconciler.Transcript()) != 0 {
		t.Error("Expected AI text to stay pending while the response is in flight")
	}

	if err := dc.SendText(`{"type":"response.done"}`); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	waitUntil(t, "committed AI text", func() bool {
		entries := reconciler.Transcript()
		return len(entries) == 1 && entries[0].Text == question && entries[0].Speaker == transcript.SpeakerAI
	})

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Error("Expected Done to close after Close")
	}
}

func TestConnect_NegotiationRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid ephemeral key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := Connect(context.Background(), Config{
		BaseURL:            server.URL,
		NegotiationTimeout: 10 * time.Second,
		API:                loopbackAPI(),
	}, "ek_expired", transcript.NewReconciler(visualizer.NewFeed()), nil, testLogger())

	var negErr *NegotiationError
	if !errors.As(err, &negErr) || negErr.StatusCode != http.StatusUnauthorized || !strings.Contains(negErr.Body, "invalid ephemeral key") {
		t.Fatalf("Expected *NegotiationError with 401, got %v", err)
	}
}
