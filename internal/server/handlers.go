package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sophia/internal/swarm"
)

type submitTaskRequest struct {
	Goal        string            `json:"goal" binding:"required"`
	Type        string            `json:"type"`
	Constraints swarm.Constraints `json:"constraints"`
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.service.Submit(swarm.Task{
		Goal:        req.Goal,
		Type:        req.Type,
		Constraints: req.Constraints,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID})
}

func (s *Server) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.service.List()})
}

func (s *Server) handleGetTask(c *gin.Context) {
	record, ok := s.service.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleQueryPatterns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pattern store not configured"})
		return
	}
	query := c.Query("q")
	if query == "" {
		query = c.Query("type")
	}
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q or type query parameter required"})
		return
	}
	topK := 5
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			topK = parsed
		}
	}

	matches, err := s.store.Retrieve(c.Request.Context(), query, c.Query("type"), topK)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": matches, "count": s.store.Count()})
}

func (s *Server) handleBreakers(c *gin.Context) {
	if s.breakers == nil {
		c.JSON(http.StatusOK, gin.H{"breakers": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakers": s.breakers.Metrics()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}
