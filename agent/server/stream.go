package server

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) mediaStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("media stream upgrade failed")
		return
	}
	if err := s.deps.Calls.Serve(s.ctx, conn); err != nil {
		s.log.Warn().Err(err).Msg("call ended with error")
	}
}

// observerStream attaches a websocket observer to the event bus until the
// peer disconnects. Observers only listen; inbound frames are discarded.
func (s *Server) observerStream(fullList bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("observer upgrade failed")
			return
		}
		defer conn.Close()

		unsubscribe := s.deps.Agents.Subscribe(conn, fullList)
		defer unsubscribe()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-s.ctx.Done():
				_ = conn.Close()
			case <-stop:
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
