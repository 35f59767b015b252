package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

func (c *Client) writePump(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteWait),
		)
		// Unblocks the read pump.
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-conn.send:
			if !ok {
				c.log.Debug().Msg("writePump channel closed")
				return
			}
			if err := conn.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

func (c *Client) readPump(conn *wsConn) error {
	ws := conn.conn
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad relay frame")
			continue
		}
		c.post(event.Inbound{Msg: msg})
	}
}
