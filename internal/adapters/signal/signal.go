// Package signal serves the signaling WebSocket and bridges it to the router.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Dispatcher is the part of the router the WebSocket layer needs.
type Dispatcher interface {
	Connect(id domain.ParticipantID, conn core.SignalConnection, defaultName string)
	Dispatch(id domain.ParticipantID, data []byte)
	Disconnect(id domain.ParticipantID)
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
}

type SignalWSController struct {
	Router Dispatcher
	opts   Options
	newID  func() string
}

func NewSignalWSController(router Dispatcher, opts Options) *SignalWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{Router: router, opts: opts, newID: uuid.NewString}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and starts the pumps. Every WebSocket is
// its own participant, even when a browser opens several.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := domain.ParticipantID(ctl.newID())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("ct", c.GetString("client_token")).Msg("new WS connection")

	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}
	conn := newWsSignalConn(ws, ctl.opts.SendQueue)
	ctx, cancel := context.WithCancel(ctx)

	ctl.Router.Connect(sid, conn, c.GetString("profile_name"))

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
