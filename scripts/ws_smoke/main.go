package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/trekchat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080", "server WebSocket base address")
	user := flag.String("user", "tester", "user id to connect as")
	token := flag.String("token", "", "bearer token, when the server requires one")
	room := flag.String("room", "", "room id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *room == "" {
		return fmt.Errorf("-room is required")
	}

	u, err := url.Parse(*addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	u = u.JoinPath("ws", "rooms", *room)
	q := url.Values{}
	if *token != "" {
		q.Set("token", *token)
	} else {
		q.Set("user_id", *user)
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	clientID := uuid.NewString()
	payload, err := json.Marshal(proto.MsgData{Text: *text, ClientID: clientID})
	if err != nil {
		return fmt.Errorf("marshal msg: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if frame.Type == proto.OutboundTypeError && frame.Error != nil {
			if frame.Error.ClientID == clientID {
				return fmt.Errorf("rejected: %s (%s)", frame.Error.Msg, frame.Error.Code)
			}
			fmt.Printf("Error: %s\n", frame.Error.Msg)
			continue
		}

		switch frame.Event {
		case proto.EventSnapshot:
			var snap proto.Snapshot
			if err := json.Unmarshal(frame.Data, &snap); err != nil {
				return fmt.Errorf("unmarshal snapshot: %w", err)
			}
			fmt.Printf("Snapshot: room=%s messages=%d count=%d\n", snap.Room, len(snap.Messages), snap.Count)
		case proto.EventAck:
			var ack proto.Ack
			if err := json.Unmarshal(frame.Data, &ack); err != nil {
				return fmt.Errorf("unmarshal ack: %w", err)
			}
			if ack.ClientID == clientID {
				fmt.Printf("Ack: id=%s text=%q created_at=%d\n", ack.Message.ID, ack.Message.Text, ack.Message.CreatedAt)
				return nil
			}
		}
	}
}
