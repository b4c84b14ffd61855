package web

import (
	"net/http"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zpdzap/sandpreview/internal/workflow"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// message is the websocket wire form of a workflow event.
type message struct {
	Type    string `json:"type"`
	Run     string `json:"run,omitempty"`
	From    string `json:"from,omitempty"`
	Status  string `json:"status,omitempty"`
	Data    string `json:"data,omitempty"`
	Port    int    `json:"port,omitempty"`
	URL     string `json:"url,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func toMessage(e workflow.Event) message {
	switch e := e.(type) {
	case workflow.StatusChanged:
		return message{Type: "status", Run: e.Run, From: string(e.From), Status: string(e.To)}
	case workflow.OutputChunk:
		return message{Type: "output", Run: e.Run, Data: ansi.Strip(string(e.Data))}
	case workflow.ServerReady:
		return message{Type: "ready", Run: e.Run, Port: e.Port, URL: e.URL}
	case workflow.Failed:
		return message{Type: "failed", Run: e.Run, Kind: string(e.Kind), Message: e.Message}
	}
	return message{Type: "unknown", Run: e.RunID()}
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.ctrl.Config().Server.AllowOrigins
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowed, r)
		},
	}
}

// events streams workflow events to one websocket client until either side
// goes away.
func (s *Server) events(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.ctrl.Bus().Subscribe()
	defer unsubscribe()

	// The read side only handles control frames and notices a close.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := s.ctrl.Snapshot()
	hello := message{Type: "status", Run: snap.RunID, Status: string(snap.Status), URL: snap.URL, Port: snap.Port}
	if err := s.write(conn, hello); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
				return
			}
			if err := s.write(conn, toMessage(e)); err != nil {
				s.log.Debug("WebSocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, m message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}
