package message

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	midsec "PPRelay/middleware/security"
	"PPRelay/service/chat"
	"PPRelay/service/storage"
	"PPRelay/tools/errs"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallConfig 托管通话服务的凭据
type CallConfig struct {
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// Server is the reference collaborator: it persists message changes and then
// hands them to the relay.
type Server struct {
	Store storage.MessageStore
	Relay *chat.Relay
	Stat  *chat.Status
	Call  CallConfig
	Log   *zap.Logger
}

type handlerFunc func(c *gin.Context) error

// wrap 统一把错误码映射成 HTTP 状态
func (s *Server) wrap(h handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h(c)
		if err == nil {
			return
		}
		var ce errs.CodeError
		if !errors.As(err, &ce) {
			s.Log.Error("[api] request failed", zap.String("route", c.FullPath()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, errs.ErrInternalServer)
			return
		}
		status := http.StatusBadRequest
		switch ce.Code {
		case errs.RecordNotFoundError:
			status = http.StatusNotFound
		case errs.UnauthorizedError, errs.TokenExpiredError:
			status = http.StatusUnauthorized
		case errs.ServerInternalError:
			status = http.StatusInternalServerError
		}
		s.Log.Debug("[api] request rejected", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(status, ce)
	}
}

type sendReq struct {
	ReceiverID string `json:"receiverId"`
	storage.NewMessage
}

type editReq struct {
	Content string `json:"content"`
}

// Conversation GET /api/messages/:peer
func (s *Server) Conversation(c *gin.Context) error {
	msgs, err := s.Store.Conversation(c.Request.Context(), midsec.UserID(c), c.Param("peer"))
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	c.JSON(http.StatusOK, msgs)
	return nil
}

// Send POST /api/messages
func (s *Server) Send(c *gin.Context) error {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrMalformedPayload.WrapMsg(err.Error())
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing receiverId")
	}
	me := midsec.UserID(c)
	m, err := s.Store.Create(c.Request.Context(), me, req.ReceiverID, req.NewMessage)
	if err != nil {
		return err
	}
	s.Relay.RelayNew(me, req.ReceiverID, m)
	c.JSON(http.StatusCreated, m)
	return nil
}

// Edit PATCH /api/messages/:id
func (s *Server) Edit(c *gin.Context) error {
	var req editReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrMalformedPayload.WrapMsg(err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return errs.ErrMalformedPayload.WrapMsg("empty content")
	}
	me := midsec.UserID(c)
	m, err := s.Store.Edit(c.Request.Context(), c.Param("id"), me, req.Content)
	if err != nil {
		return err
	}
	s.Relay.RelayEdited(m.ID, m.Content, me, m.ReceiverID)
	c.JSON(http.StatusOK, m)
	return nil
}

// Delete DELETE /api/messages/:id
func (s *Server) Delete(c *gin.Context) error {
	me := midsec.UserID(c)
	m, err := s.Store.Delete(c.Request.Context(), c.Param("id"), me)
	if err != nil {
		return err
	}
	s.Relay.RelayDeleted(m.ID, me, m.ReceiverID)
	c.JSON(http.StatusOK, gin.H{"id": m.ID})
	return nil
}

// DeliveredAll POST /api/messages/delivered
// 上线后把所有 sent 消息标记为 delivered，并通知每一个发送方
func (s *Server) DeliveredAll(c *gin.Context) error {
	me := midsec.UserID(c)
	senders, err := s.Store.MarkAllDelivered(c.Request.Context(), me)
	if err != nil {
		return err
	}
	for _, from := range senders {
		_, _ = s.Stat.Ack(chat.AckDelivered, me, from)
	}
	if senders == nil {
		senders = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"senderIds": senders})
	return nil
}

// DeliveredFrom POST /api/messages/delivered/:peer
func (s *Server) DeliveredFrom(c *gin.Context) error {
	return s.ack(c, chat.AckDelivered, s.Store.MarkDelivered)
}

// SeenFrom POST /api/messages/seen/:peer
func (s *Server) SeenFrom(c *gin.Context) error {
	return s.ack(c, chat.AckSeen, s.Store.MarkSeen)
}

// ack 先落库，只在确实有行前进时通知对方
func (s *Server) ack(c *gin.Context, status string, mark func(ctx context.Context, receiverID, senderID string) (int, error)) error {
	peer := strings.TrimSpace(c.Param("peer"))
	if peer == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing peer")
	}
	me := midsec.UserID(c)
	n, err := mark(c.Request.Context(), me, peer)
	if err != nil {
		return err
	}
	if n > 0 {
		if _, err := s.Stat.Ack(status, me, peer); err != nil {
			return err
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
	return nil
}

// Conversations GET /api/conversations
func (s *Server) Conversations(c *gin.Context) error {
	convs, err := s.Store.LastMessagePerPeer(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		return err
	}
	if convs == nil {
		convs = []storage.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
	return nil
}

// Unread GET /api/unread
func (s *Server) Unread(c *gin.Context) error {
	counts, err := s.Store.UnreadCounts(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, counts)
	return nil
}

// CallToken GET /api/call-token?peer=<id>
func (s *Server) CallToken(c *gin.Context) error {
	peer := strings.TrimSpace(c.Query("peer"))
	if peer == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing peer")
	}
	me := midsec.UserID(c)
	ttl := s.Call.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	tok, exp, err := security.IssueCallToken([]byte(s.Call.APISecret), me, ttl)
	if err != nil {
		return errs.ErrInternalServer.WrapMsg(err.Error())
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     tok,
		"apiKey":    s.Call.APIKey,
		"roomId":    chat.RoomID(me, peer),
		"expiresAt": exp.Unix(),
	})
	return nil
}
