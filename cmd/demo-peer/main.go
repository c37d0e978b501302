// Command demo-peer is a terminal demonstration of the collaboration
// transport: two instances connect through cmd/signal-server, negotiate
// a WebRTC peer connection, and run internal/session over its single
// data channel — syncing a shared text document and, optionally,
// pushing a file.
//
// Grounded on the teacher's client/webrtc/webrtc.go (PeerConnection
// setup, ICE handling) and client/webrtc/signaler.go (the WebSocket
// rendezvous client), trimmed to this spec's single-channel model and
// rebuilt on internal/session instead of the teacher's own protocol
// handling.
package main

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/wltechblog/p2pftp-core/internal/channel"
	"github.com/wltechblog/p2pftp-core/internal/filexfer"
	"github.com/wltechblog/p2pftp-core/internal/session"
)

type signalMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	PeerToken string `json:"peerToken,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	ICE       string `json:"ice,omitempty"`
}

func main() {
	wsURL := flag.String("signal", "ws://localhost:8089/ws", "signal-server websocket URL")
	peerToken := flag.String("peer", "", "peer's rendezvous token to connect to (leave empty to wait for an incoming request)")
	sendFile := flag.String("send-file", "", "path to a file to push once the session opens")
	text := flag.String("text", "", "initial text to write to the shared document once the session opens")
	flag.Parse()

	debug := log.New(os.Stderr, "demo-peer: ", log.LstdFlags)

	dialer := &websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.Dial(*wsURL, http.Header{"Origin": []string{"http://p2pftp-demo"}})
	if err != nil {
		log.Fatalf("signal dial failed: %v", err)
	}
	defer conn.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		log.Fatalf("peer connection failed: %v", err)
	}
	defer pc.Close()

	doc := newLWWTextDoc()
	var sess *session.Session
	var sessMu sync.Mutex
	ready := make(chan struct{})
	var readyOnce sync.Once

	sink := filexfer.Sink(func(meta filexfer.Metadata, data []byte) {
		fmt.Printf("\nreceived file %q (%d bytes)\n", meta.Name, len(data))
	})

	attach := func(dc *webrtc.DataChannel) {
		handle := channel.NewWebRTCHandle(dc)
		s := session.New(handle, doc, sink, debug)
		sessMu.Lock()
		sess = s
		sessMu.Unlock()
		dc.OnOpen(func() { readyOnce.Do(func() { close(ready) }) })
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		debug.Printf("incoming data channel %q", dc.Label())
		attach(dc)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, _ := json.Marshal(c.ToJSON())
		sendSignal(conn, signalMessage{Type: "ice", PeerToken: *peerToken, ICE: string(payload)})
	})

	var myToken string
	tokenAssigned := make(chan struct{})
	var tokenOnce sync.Once

	onSignal := func(msg signalMessage) {
		switch msg.Type {
		case "token":
			myToken = msg.Token
			tokenOnce.Do(func() { close(tokenAssigned) })
		case "request":
			*peerToken = msg.Token
			sendSignal(conn, signalMessage{Type: "accept", PeerToken: msg.Token})
		case "offer":
			offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
			if err := pc.SetRemoteDescription(offer); err != nil {
				debug.Printf("set remote offer failed: %v", err)
				return
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				debug.Printf("create answer failed: %v", err)
				return
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				debug.Printf("set local answer failed: %v", err)
				return
			}
			sendSignal(conn, signalMessage{Type: "answer", PeerToken: msg.Token, SDP: answer.SDP})
		case "answer":
			answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
			if err := pc.SetRemoteDescription(answer); err != nil {
				debug.Printf("set remote answer failed: %v", err)
			}
		case "ice":
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.ICE), &candidate); err != nil {
				debug.Printf("malformed ICE candidate: %v", err)
				return
			}
			if err := pc.AddICECandidate(candidate); err != nil {
				debug.Printf("add ICE candidate failed: %v", err)
			}
		case "error":
			debug.Printf("signal error: %s", msg.SDP)
		}
	}

	go func() {
		for {
			var msg signalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				debug.Printf("signal read error: %v", err)
				return
			}
			onSignal(msg)
		}
	}()

	<-tokenAssigned
	fmt.Printf("your rendezvous token: %s\n", myToken)

	if *peerToken != "" {
		dc, err := pc.CreateDataChannel("p2pftp", &webrtc.DataChannelInit{Ordered: boolPtr(true)})
		if err != nil {
			log.Fatalf("create data channel failed: %v", err)
		}
		attach(dc)

		sendSignal(conn, signalMessage{Type: "connect", PeerToken: *peerToken})

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			log.Fatalf("create offer failed: %v", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			log.Fatalf("set local description failed: %v", err)
		}
		sendSignal(conn, signalMessage{Type: "offer", PeerToken: *peerToken, SDP: offer.SDP})
	} else {
		fmt.Println("waiting for an incoming connection request...")
	}

	select {
	case <-ready:
		fmt.Println("session open")
	case <-time.After(2 * time.Minute):
		log.Fatal("timed out waiting for the data channel to open")
	}

	sessMu.Lock()
	active := sess
	sessMu.Unlock()

	if *text != "" {
		doc.SetText(*text)
	}
	if *sendFile != "" {
		data, err := os.ReadFile(*sendFile)
		if err != nil {
			log.Fatalf("reading %s: %v", *sendFile, err)
		}
		if _, err := active.Files.SendFile(&fileSource{data: data}, filexfer.SendOptions{
			Name:       *sendFile,
			ComputeMD5: true,
		}); err != nil {
			log.Fatalf("SendFile failed: %v", err)
		}
	}

	select {}
}

func sendSignal(conn *websocket.Conn, msg signalMessage) {
	_ = conn.WriteJSON(msg)
}

func boolPtr(b bool) *bool { return &b }

type fileSource struct{ data []byte }

func (s *fileSource) Size() int64 { return int64(len(s.data)) }
func (s *fileSource) Read(start, end int64) ([]byte, error) {
	return append([]byte{}, s.data[start:end]...), nil
}
