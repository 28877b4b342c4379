// Package httpapi maps the update engine onto a thin gin JSON surface.
package httpapi

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/x402cheddr/sequencer/internal/channel"
)

// Handler wires the update engine onto gin routes.
type Handler struct {
	engine *channel.Engine
	log    *zap.Logger
}

// NewHandler constructs a Handler over engine.
func NewHandler(engine *channel.Engine, log *zap.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// Register mounts every route this service exposes onto r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, "ok")
	})
	r.GET("/channels/by-owner/:owner", h.handleListByOwner)
	r.POST("/channel/seed", h.handleSeed)
	r.GET("/channel/:id", h.handleGet)
	r.POST("/validate", h.handleValidate)
	r.POST("/settle", h.handleSettle)
	r.POST("/finalize", h.handleFinalize)
}

func (h *Handler) handleListByOwner(c *gin.Context) {
	log := requestLogger(c, h.log)
	ownerHex := c.Param("owner")
	if !common.IsHexAddress(ownerHex) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner address"})
		return
	}

	ids, err := h.engine.ListByOwner(c.Request.Context(), common.HexToAddress(ownerHex))
	if err != nil {
		writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": ownerHex, "channelIds": ids})
}

func (h *Handler) handleSeed(c *gin.Context) {
	log := requestLogger(c, h.log)

	var body seedRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	channelID, ok := parseChannelID(body.ChannelID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channelId"})
		return
	}
	if !common.IsHexAddress(body.Owner) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner address"})
		return
	}
	balance, ok := parseBigInt(body.Balance)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid balance"})
		return
	}

	s, err := h.engine.Seed(c.Request.Context(), channel.SeedRequest{
		ChannelID:       channelID,
		Owner:           common.HexToAddress(body.Owner),
		Balance:         balance,
		ExpiryTimestamp: body.ExpiryTimestamp,
	})
	if err != nil {
		writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, toChannelView(s))
}

func (h *Handler) handleGet(c *gin.Context) {
	log := requestLogger(c, h.log)
	s, err := h.engine.Get(c.Param("id"))
	if err != nil {
		writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, toChannelView(s))
}

func (h *Handler) handleValidate(c *gin.Context) {
	h.handlePayInChannel(c, h.engine.Validate)
}

func (h *Handler) handleSettle(c *gin.Context) {
	h.handlePayInChannel(c, h.engine.Settle)
}

// payInChannelFunc matches the signature shared by Engine.Validate and
// Engine.Settle, letting both HTTP handlers share one body-parsing path.
type payInChannelFunc func(ctx context.Context, req channel.SettleRequest) (*channel.State, error)

func (h *Handler) handlePayInChannel(c *gin.Context, run payInChannelFunc) {
	log := requestLogger(c, h.log)

	var body payInChannelRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	amount, ok := parseBigInt(body.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if !common.IsHexAddress(body.Receiver) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receiver address"})
		return
	}
	sig, ok := parseSignature(body.UserSignature)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userSignature"})
		return
	}

	req := channel.SettleRequest{
		ChannelID:      body.ChannelID,
		Amount:         amount,
		Receiver:       common.HexToAddress(body.Receiver),
		SequenceNumber: body.SequenceNumber,
		Timestamp:      body.Timestamp,
		UserSignature:  sig,
	}

	if body.FeeForPayment != nil {
		if !common.IsHexAddress(body.FeeForPayment.FeeDestinationAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feeDestinationAddress"})
			return
		}
		feeAmount, ok := parseBigInt(body.FeeForPayment.FeeAmountCurds)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feeAmountCurds"})
			return
		}
		req.Fee = &channel.FeeRequest{
			Address: common.HexToAddress(body.FeeForPayment.FeeDestinationAddress),
			Amount:  feeAmount,
		}
	}

	s, err := run(c.Request.Context(), req)
	if err != nil {
		writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": toChannelView(s)})
}

func (h *Handler) handleFinalize(c *gin.Context) {
	log := requestLogger(c, h.log)

	var body finalizeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	txHash, err := h.engine.Finalize(c.Request.Context(), body.ChannelID)
	if err != nil {
		writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactionHash": txHash.Hex()})
}
