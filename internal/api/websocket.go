package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams the live audit trail to a client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Audit == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"audit not ready"}`))
		return
	}

	stream, unsub := s.Audit.Subscribe()
	defer unsub()

	for rec := range stream {
		if err := conn.WriteJSON(rec); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
