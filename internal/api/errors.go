package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"tirilo-fleet-backend/internal/fleeterr"
)

// respondError translates a service error into an HTTP response. The
// partial-failure case keeps its structure: the caller must be able to tell
// "nothing happened" apart from "something happened, state is inconsistent".
func respondError(c *gin.Context, err error) {
	var (
		partial    *fleeterr.PartialFailureError
		validation *fleeterr.ValidationError
		notFound   *fleeterr.NotFoundError
		conflict   *fleeterr.ConflictError
		queueFull  *fleeterr.QueueFullError
	)

	switch {
	case errors.As(err, &partial):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":     partial.Error(),
			"completed": partial.Completed,
			"failed":    partial.Failed,
			"state":     partial.State,
		})
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &notFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &conflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.As(err, &queueFull):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": queueFull.Error()})
	default:
		log.Printf("Internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
	}
}
