package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/x402cheddr/sequencer/internal/channel"
)

// writeError maps an engine error to its HTTP status and JSON body. An
// Internal error's detail is logged but never returned to the caller.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var cerr *channel.Error
	if !errors.As(err, &cerr) {
		log.Error("unclassified error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch cerr.Kind {
	case channel.KindBadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": cerr.Msg})
	case channel.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": cerr.Msg})
	default:
		log.Error("internal error", zap.Error(cerr.Cause))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
