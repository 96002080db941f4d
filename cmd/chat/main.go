// Terminal chat client for poking at a running realtime service.
//
//	go run ./cmd/chat -ws ws://localhost:8080/v1/ws -api http://localhost:3001 \
//	  -token <jwt> -user u1 -name ana -room general
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/logger"
	"github.com/fathima-sithara/realtime-service/pkg/client"
	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

func main() {
	wsURL := flag.String("ws", "ws://localhost:8080/v1/ws", "websocket endpoint")
	apiURL := flag.String("api", "http://localhost:3001", "room directory / message store base URL")
	token := flag.String("token", "", "bearer token")
	userID := flag.String("user", "", "user id")
	username := flag.String("name", "", "username")
	room := flag.String("room", "general", "room to join")
	flag.Parse()

	if *userID == "" || *username == "" {
		log.Fatal("both -user and -name are required")
	}

	zlog, err := logger.New(true)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}

	socketURL := *wsURL
	if *token != "" {
		socketURL += "?token=" + *token
	}

	sock := client.NewSocket(zlog)
	sock.On(protocol.EventNewMessage, func(data json.RawMessage) {
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err == nil {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.User.Username, msg.Content)
		}
	})
	sock.On(protocol.EventUsersInRoom, func(data json.RawMessage) {
		var users []protocol.RoomUser
		if err := json.Unmarshal(data, &users); err == nil {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Username)
			}
			fmt.Printf("-- online: %s\n", strings.Join(names, ", "))
		}
	})
	sock.On(protocol.EventUserTyping, func(data json.RawMessage) {
		var evt protocol.UserTypingData
		if err := json.Unmarshal(data, &evt); err == nil {
			fmt.Printf("-- %s is typing...\n", evt.Username)
		}
	})

	api := client.NewHTTPRoomAPI(*apiURL, *token, 10*time.Second, 30*time.Second)
	session := client.NewRoomSession(sock, api,
		client.Identity{UserID: *userID, Username: *username}, socketURL, zlog)
	defer session.Close()

	ctx := context.Background()
	if err := session.Join(ctx, *room); err != nil {
		log.Fatalf("join %s: %v", *room, err)
	}
	fmt.Printf("joined %s as %s (type a message, /quit to exit)\n", *room, *username)

	for _, msg := range session.Messages() {
		fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.User.Username, msg.Content)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			session.Leave(ctx)
			return
		default:
			if err := session.SendMessage(ctx, line); err != nil {
				fmt.Printf("!! send failed: %v\n", err)
			}
		}
	}
}
