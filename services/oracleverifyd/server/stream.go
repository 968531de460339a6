package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"oraclecheck/verify"
)

const wsWriteTimeout = 10 * time.Second

// handleStream pushes board snapshots over a websocket until the run is done
// or the client leaves.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	if _, err := s.deps.Verifier.Snapshot(session); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamSession(ctx, conn, session); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamSession(ctx context.Context, conn *websocket.Conn, session string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, err := s.deps.Verifier.Watch(ctx, session)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				return err
			}
			if snap.Done {
				return nil
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap verify.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
