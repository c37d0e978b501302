// Command signal-server is the WebSocket rendezvous the demo peers use
// to exchange SDP offers/answers and ICE candidates before their
// collaboration session's data channel comes up. It carries no session
// traffic itself — once the data channel opens, everything in
// SPEC_FULL.md flows peer-to-peer through internal/session.
//
// Adapted from the teacher's standalone signaling server (main.go):
// same token/connect/accept/offer/answer/ice relay, with the embedded
// web UI dropped since this spec's peers are Go binaries
// (cmd/demo-peer), not a browser client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client is one connected peer awaiting or holding a rendezvous.
type client struct {
	conn      *websocket.Conn
	token     string
	peerToken string
}

// message is the WebSocket envelope exchanged with clients.
type message struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	PeerToken string `json:"peerToken,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	ICE       string `json:"ice,omitempty"`
}

type configResponse struct {
	StunServers []string `json:"stunServers"`
}

var (
	clientsMu sync.Mutex
	clients   = make(map[string]*client)

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	stunServers []string
)

func main() {
	addr := flag.String("addr", "localhost", "listen address")
	port := flag.Int("port", 8089, "listen port")
	stunFlag := flag.String("stun", "", "comma-separated STUN servers (default: Google STUN servers)")
	flag.Parse()

	if *stunFlag != "" {
		stunServers = strings.Split(*stunFlag, ",")
		for i, s := range stunServers {
			stunServers[i] = strings.TrimSpace(s)
		}
	} else {
		stunServers = []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		}
	}

	http.HandleFunc("/api/config", handleConfig)
	http.HandleFunc("/ws", handleConnection)

	listenAddr := fmt.Sprintf("%s:%d", *addr, *port)
	log.Printf("signal-server listening on %s", listenAddr)
	log.Printf("websocket endpoint: ws://%s/ws", listenAddr)

	if err := http.ListenAndServe(listenAddr, nil); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(configResponse{StunServers: stunServers})
}

func handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade error:", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, token: generateToken()}

	clientsMu.Lock()
	clients[c.token] = c
	clientsMu.Unlock()

	if err := conn.WriteJSON(message{Type: "token", Token: c.token}); err != nil {
		log.Println("error sending token:", err)
		return
	}

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "connect":
			handleConnect(c, msg.PeerToken)
		case "accept":
			handleAccept(c, msg.PeerToken)
		case "reject":
			handleReject(c, msg.PeerToken)
		case "ice":
			forward(c, msg.PeerToken, message{Type: "ice", Token: c.token, ICE: msg.ICE})
		case "offer":
			forward(c, msg.PeerToken, message{Type: "offer", Token: c.token, SDP: msg.SDP})
		case "answer":
			forward(c, msg.PeerToken, message{Type: "answer", Token: c.token, SDP: msg.SDP})
		}
	}

	clientsMu.Lock()
	delete(clients, c.token)
	clientsMu.Unlock()
}

func generateToken() string {
	return uuid.New().String()[:8]
}

func handleConnect(c *client, peerToken string) {
	peer, ok := lookup(peerToken)
	if !ok {
		c.conn.WriteJSON(message{Type: "error", SDP: "peer not found"})
		return
	}
	c.peerToken = peerToken
	peer.conn.WriteJSON(message{Type: "request", Token: c.token})
}

func handleAccept(c *client, peerToken string) {
	peer, ok := lookup(peerToken)
	if !ok {
		c.conn.WriteJSON(message{Type: "error", SDP: "peer not found"})
		return
	}
	peer.conn.WriteJSON(message{Type: "accepted", Token: c.token})
}

func handleReject(c *client, peerToken string) {
	peer, ok := lookup(peerToken)
	if !ok {
		return
	}
	peer.conn.WriteJSON(message{Type: "rejected", Token: c.token})
}

func forward(c *client, peerToken string, msg message) {
	peer, ok := lookup(peerToken)
	if !ok {
		c.conn.WriteJSON(message{Type: "error", SDP: "peer not found"})
		return
	}
	peer.conn.WriteJSON(msg)
}

func lookup(token string) (*client, bool) {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	c, ok := clients[token]
	return c, ok
}
