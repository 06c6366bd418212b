package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"wa-gateway-lite/internal/model"
	"wa-gateway-lite/internal/session"
	"wa-gateway-lite/internal/store"
)

type MessageService interface {
	SendMessage(ctx context.Context, cmd session.SendCommand) (model.Message, error)
	History(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
}

type MessageHandler struct {
	Messages MessageService
}

type sendMessageBody struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	ReplyTo   string `json:"replyTo"`
	ForwardOf string `json:"forwardOf"`
	ClientID  string `json:"clientId"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	clientID := body.ClientID
	if clientID == "" {
		clientID = c.GetHeader("Idempotency-Key")
	}

	msg, err := h.Messages.SendMessage(c.Request.Context(), session.SendCommand{
		SessionID: c.Param("id"),
		To:        body.To,
		From:      body.From,
		Type:      model.MessageType(body.Type),
		Content:   body.Content,
		ReplyTo:   body.ReplyTo,
		ForwardOf: body.ForwardOf,
		ClientID:  clientID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *MessageHandler) History(c *gin.Context) {
	limit := store.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = v
	}

	msgs, err := h.Messages.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
