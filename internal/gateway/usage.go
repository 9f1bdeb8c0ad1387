package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleUsage reports the caller's consumption against their tier
// budgets. Unauthenticated demo clients may name a user via query
// parameter.
func (s *Server) handleUsage(c *gin.Context) {
	userID := UserID(c)
	if userID == "anonymous" {
		if q := c.Query("user_id"); q != "" {
			userID = q
		}
	}

	summary, err := s.gate.UsageSummary(c.Request.Context(), userID, TierOf(c, userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load usage"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"tier":      summary.Tier,
		"usage":     summary.Usage,
		"limits":    summary.Limits,
		"remaining": summary.Remaining,
	})
}
