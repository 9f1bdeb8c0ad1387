package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type modelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	Latency       string   `json:"latency"`
	Specialties   []string `json:"specialties"`
	Available     bool     `json:"available"`
}

func (s *Server) handleModels(c *gin.Context) {
	descriptors := s.router.Descriptors()
	models := make([]modelInfo, 0, len(descriptors))
	for _, d := range descriptors {
		specialties := make([]string, 0, len(d.Specialties))
		for _, sp := range d.Specialties {
			specialties = append(specialties, string(sp))
		}
		models = append(models, modelInfo{
			ID:            d.Model,
			Provider:      d.Provider,
			ContextWindow: d.ContextWindow,
			Latency:       d.Latency,
			Specialties:   specialties,
			Available:     d.Credentialed(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}
