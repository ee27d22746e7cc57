package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-collab-session/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// requestLogger adapts chi's request logging to logrus.
type requestLogger struct{}

func (l *requestLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestLogEntry{entry: logrus.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"remote": r.RemoteAddr,
	})}
}

type requestLogEntry struct {
	entry *logrus.Entry
}

func (e *requestLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.entry.WithFields(logrus.Fields{
		"status":  status,
		"bytes":   bytes,
		"elapsed": elapsed,
	}).Info("request completed")
}

func (e *requestLogEntry) Panic(v interface{}, _ []byte) {
	e.entry.WithField("panic", v).Error("request panicked")
}

// roomStatus is one entry of the active-rooms listing.
type roomStatus struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// NewHandler creates the HTTP handler with all routes.
func NewHandler(hub *Hub, st store.DocumentStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&requestLogger{}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/documents", func(w http.ResponseWriter, req *http.Request) {
		docs, err := st.List(req.Context())
		if err != nil {
			logrus.WithField("error", err).Error("failed to list documents")
			http.Error(w, "failed to list documents", http.StatusInternalServerError)
			return
		}
		render.JSON(w, req, docs)
	})

	r.Get("/api/rooms", func(w http.ResponseWriter, req *http.Request) {
		active := hub.ActiveRooms()
		rooms := make([]roomStatus, 0, len(active))
		for id, n := range active {
			rooms = append(rooms, roomStatus{ID: id, Members: n})
		}
		sort.Slice(rooms, func(i, j int) bool {
			if rooms[i].Members == rooms[j].Members {
				return rooms[i].ID < rooms[j].ID
			}
			return rooms[i].Members > rooms[j].Members
		})
		render.JSON(w, req, rooms)
	})

	// WebSocket endpoint.
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logrus.WithField("error", err).Warn("websocket upgrade failed")
			return
		}
		client := newClient(hub, conn)
		go client.WritePump()
		go client.ReadPump()
	})

	return r
}
