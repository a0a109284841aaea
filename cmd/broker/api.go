package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/agentbroker/bridge"
	"github.com/relaykit/agentbroker/sessionmgr"
)

// registerManagementRoutes wires the small session-CRUD surface, grounded
// on api/claude.go's ListClaudeSessions/CreateClaudeSession/
// GetClaudeSession/DeleteClaudeSession/ArchiveClaudeSession handlers,
// adapted from a single Claude-desktop session table to sessionmgr's
// adapter-agnostic sessions.
func registerManagementRoutes(r *gin.Engine, mgr *sessionmgr.Manager) {
	group := r.Group("/api/sessions")
	group.GET("", func(c *gin.Context) { listSessions(c, mgr) })
	group.POST("", func(c *gin.Context) { createSession(c, mgr) })
	group.GET("/:id", func(c *gin.Context) { getSession(c, mgr) })
	group.DELETE("/:id", func(c *gin.Context) { deleteSession(c, mgr) })
	group.POST("/:id/archive", func(c *gin.Context) { setArchived(c, mgr, true) })
	group.POST("/:id/unarchive", func(c *gin.Context) { setArchived(c, mgr, false) })
}

func sessionJSON(s *bridge.Session) gin.H {
	snap := s.Snapshot()
	return gin.H{
		"id":               snap.ID,
		"cwd":              s.Cwd,
		"adapterName":      s.AdapterName,
		"lifecycle":        string(snap.Lifecycle),
		"cliConnected":     snap.CliConnected,
		"consumerCount":    snap.ConsumerCount,
		"archived":         snap.Archived,
		"backendSessionId": snap.BackendSessionID,
		"lastActivity":     snap.LastActivity,
	}
}

func listSessions(c *gin.Context, mgr *sessionmgr.Manager) {
	sessions := mgr.Sessions()
	result := make([]gin.H, len(sessions))
	for i, s := range sessions {
		result[i] = sessionJSON(s)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": result})
}

func createSession(c *gin.Context, mgr *sessionmgr.Manager) {
	var body struct {
		Cwd         string `json:"cwd"`
		AdapterName string `json:"adapterName"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := mgr.CreateSession(c.Request.Context(), body.Cwd, body.AdapterName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessionJSON(session))
}

func getSession(c *gin.Context, mgr *sessionmgr.Manager) {
	session, ok := mgr.GetSession(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sessionJSON(session))
}

func deleteSession(c *gin.Context, mgr *sessionmgr.Manager) {
	if _, ok := mgr.GetSession(c.Param("id")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := mgr.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func setArchived(c *gin.Context, mgr *sessionmgr.Manager, archived bool) {
	if err := mgr.SetArchived(c.Request.Context(), c.Param("id"), archived); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
