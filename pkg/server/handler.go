package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sammck-go/wsgateway/pkg/session"
	gwshare "github.com/sammck-go/wsgateway/share"
)

// handleService serves the service listener: websocket upgrades start a
// ServiceSession, plain requests get the health, version and metrics pages
func (s *Server) handleService(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		wsConn, ok := s.upgrade(w, r, &s.serviceStats)
		if ok {
			go s.handleServiceWebsocket(ctx, wsConn)
		}
		return
	}

	switch r.URL.Path {
	case "/health":
		w.Write([]byte("OK\n"))
		return
	case "/version":
		w.Write([]byte(gwshare.BuildVersion))
		return
	case "/metrics":
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.broker.Metrics().WritePrometheus(w)
		return
	}

	http.Error(w, "Not Found", 404)
}

// handleGateway serves the client listener
func (s *Server) handleGateway(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		wsConn, ok := s.upgrade(w, r, &s.gatewayStats)
		if ok {
			go s.handleGatewayWebsocket(ctx, wsConn)
		}
		return
	}

	if r.URL.Path == "/health" {
		w.Write([]byte("OK\n"))
		return
	}

	http.Error(w, "Not Found", 404)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, stats *gwshare.ConnStats) (*websocket.Conn, bool) {
	s.DLogf("Upgrading to websocket, URL tail=\"%s\"", r.URL.String())
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.DLogf("Failed to upgrade to websocket: %s", err)
		stats.Reject()
		return nil, false
	}
	return wsConn, true
}

// sessionRunner is what handleWebsocket needs from a session
type sessionRunner interface {
	gwshare.AsyncShutdowner
	Run(ctx context.Context) error
}

func (s *Server) handleServiceWebsocket(ctx context.Context, wsConn *websocket.Conn) {
	s.handleWebsocket(ctx, wsConn, "service-session", &s.serviceStats,
		func(logger gwshare.Logger, conn session.Conn) sessionRunner {
			return session.NewServiceSession(logger, s.broker, conn, s.sessionOptions())
		})
}

func (s *Server) handleGatewayWebsocket(ctx context.Context, wsConn *websocket.Conn) {
	s.handleWebsocket(ctx, wsConn, "gateway-session", &s.gatewayStats,
		func(logger gwshare.Logger, conn session.Conn) sessionRunner {
			return session.NewGatewaySession(logger, s.broker, conn, s.sessionOptions())
		})
}

// handleWebsocket runs one session on an upgraded connection until it ends
func (s *Server) handleWebsocket(
	ctx context.Context,
	wsConn *websocket.Conn,
	kind string,
	stats *gwshare.ConnStats,
	newSession func(gwshare.Logger, session.Conn) sessionRunner,
) {
	id := stats.New()
	logger := s.Fork("%s#%d(%s)", kind, id, wsConn.RemoteAddr())
	conn := session.NewWebSocketConn(logger, wsConn, s.connOptions())
	sess := newSession(logger, conn)
	s.AddShutdownChild(sess)

	stats.Open()
	logger.DLogf("%v Open", stats)
	err := sess.Run(ctx)
	stats.Close(conn.GetNumBytesRead(), conn.GetNumBytesWritten())
	if err != nil {
		logger.DLogf("%v Closed (error: %s)", stats, err)
	} else {
		logger.DLogf("%v Closed", stats)
	}
}
