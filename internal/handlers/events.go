package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/tmaxmax/go-sse"
)

// chatsSSEType is the event carrying a user's full chat list.
var chatsSSEType = sse.Type("chats")

const watchRetryDelay = 5 * time.Second

func chatsTopic(userID string) string {
	return fmt.Sprintf("chats-%s", userID)
}

// HandleEvents streams the user's chat list as server-sent events. A "chats" event with the full
// list, ordered like HandleListChats, is sent after every change to any of the user's chats.
// Clients load the initial list with HandleListChats.
func (m Main) HandleEvents(w http.ResponseWriter, r *http.Request) {
	defer m.metrics.SessionStarted()()
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) onSession(s *sse.Session) (sse.Subscription, bool) {
	userID := UserIDFromContext(s.Req.Context())
	if userID == "" {
		return sse.Subscription{}, false
	}

	return sse.Subscription{
		Client:      s,
		LastEventID: s.LastEventID,
		// Every client gets the default topic for broadcasts like the shutdown notice, and only
		// its own owner's chat topic.
		Topics: []string{sse.DefaultTopic, chatsTopic(userID)},
	}, true
}

// PublishChats watches every user's chats collection and publishes each change to the owner's
// event stream. It blocks until ctx is done, restarting the watch if the store ends it early.
func (m Main) PublishChats(ctx context.Context) {
	for {
		for snap, err := range m.store.Watch(ctx, models.ChatsCollection, chatsQuery(defaultChatsLimit)) {
			if err != nil {
				m.logger.Error("Failed to watch chats", slog.String(errLoggerKey, err.Error()))
				continue
			}
			m.publishChats(snap)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryDelay):
			m.logger.Warn("Restarting chats watch")
		}
	}
}

func (m Main) publishChats(snap models.CollectionSnapshot) {
	userID, ok := models.OwnerOfChats(snap.Path)
	if !ok {
		return
	}

	data, err := json.Marshal(chatsResponse{Chats: m.parseChats(snap.Docs)})
	if err != nil {
		m.logger.Error("Failed to marshal chats",
			slog.String("userID", userID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: chatsSSEType}
	msg.AppendData(string(data))

	if err := m.sseSrv.Publish(msg, chatsTopic(userID)); err != nil {
		m.logger.Error("Failed to publish chats",
			slog.String("userID", userID),
			slog.String(errLoggerKey, err.Error()))
	}
}
