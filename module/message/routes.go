package message

import (
	"PPRelay/middleware"
)

// Register 挂载消息与通话令牌接口，全部需要认证
func (s *Server) Register(rt *middleware.Routes) {
	auth := middleware.RouteOpt{IsAuth: true}
	rt.GET("/api/messages/:peer", s.wrap(s.Conversation), auth)
	rt.POST("/api/messages", s.wrap(s.Send), auth)
	rt.PATCH("/api/messages/:id", s.wrap(s.Edit), auth)
	rt.DELETE("/api/messages/:id", s.wrap(s.Delete), auth)
	rt.POST("/api/messages/delivered", s.wrap(s.DeliveredAll), auth)
	rt.POST("/api/messages/delivered/:peer", s.wrap(s.DeliveredFrom), auth)
	rt.POST("/api/messages/seen/:peer", s.wrap(s.SeenFrom), auth)
	rt.GET("/api/conversations", s.wrap(s.Conversations), auth)
	rt.GET("/api/unread", s.wrap(s.Unread), auth)
	rt.GET("/api/call-token", s.wrap(s.CallToken), auth)
}
