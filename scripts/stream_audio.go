package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type envelope struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid,omitempty"`
	Start     map[string]any `json:"start,omitempty"`
	Media     map[string]any `json:"media,omitempty"`
	Stop      map[string]any `json:"stop,omitempty"`
}

type ack struct {
	Event  string `json:"event"`
	Turn   int    `json:"turn"`
	Status string `json:"status"`
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "")
	from := flag.String("from", "+810000000000", "")
	text := flag.Bool("text", false, "treat arguments as utterances instead of audio files")
	wait := flag.Duration("wait", 60*time.Second, "")
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Println("usage: stream_audio [-url=ws://host/ws] [-text] <utterance.wav|text>...")
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	callSID := "CA" + uuid.NewString()
	streamSID := "MZ" + uuid.NewString()
	send(conn, envelope{Event: "start", StreamSID: streamSID, Start: map[string]any{
		"callSid": callSID, "streamSid": streamSID, "from": *from,
	}})
	fmt.Println("call_sid:", callSID)

	// greeting, if spoken, arrives before the first turn
	for i, arg := range flag.Args() {
		payload := []byte(arg)
		if !*text {
			payload, err = os.ReadFile(arg)
			if err != nil {
				fmt.Println("read error:", err)
				os.Exit(1)
			}
		}
		send(conn, envelope{Event: "media", StreamSID: streamSID, Media: map[string]any{
			"track": "inbound", "payload": base64.StdEncoding.EncodeToString(payload),
		}})
		if !awaitTurn(conn, i+1, *wait) {
			break
		}
	}
	send(conn, envelope{Event: "stop", StreamSID: streamSID, Stop: map[string]any{"callSid": callSID}})
}

func send(conn *websocket.Conn, env envelope) {
	if err := conn.WriteJSON(env); err != nil {
		fmt.Println("send error:", err)
		os.Exit(1)
	}
}

// awaitTurn prints utterances until the turn is acknowledged. It reports
// false once the call has been closed by the receptionist.
func awaitTurn(conn *websocket.Conn, turn int, wait time.Duration) bool {
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Println("read error:", err)
			return false
		}
		var a ack
		if json.Unmarshal(data, &a) == nil && a.Event == "ack" {
			fmt.Printf("[turn %d %s]\n", a.Turn, a.Status)
			if a.Status == "closed" {
				return false
			}
			if a.Turn >= turn {
				return true
			}
			continue
		}
		fmt.Println("受付:", string(data))
	}
}
