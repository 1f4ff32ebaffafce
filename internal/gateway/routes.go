package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gge-tracker/gge-tracker-sub003/internal/protocol"
	"github.com/gge-tracker/gge-tracker-sub003/internal/util"
)

// commandWaitTimeout bounds the wait for a correlated game reply. Gateway
// callers poll, so this stays well below the engine default.
const commandWaitTimeout = 1000 * time.Millisecond

// responseProjections maps a request command to the header fields its reply
// is expected to echo, as response-path -> request-path pairs. Commands
// without an entry expect the request headers back verbatim.
var responseProjections = map[string]map[string]string{
	// Map area reads answer for the kingdom they were asked about.
	"gaa": {"KID": "KID"},
	// Detail lookups echo the target player id.
	"gdi": {"PID": "PID"},
	// Castle jumps answer with the kingdom and position that was requested.
	"jca": {"KID": "KID", "PX": "PX", "PY": "PY"},
}

// commandAliases rewrites the awaited command where the server answers
// under a different name than the request.
var commandAliases = map[string]string{
	"jca": "jaa",
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gge-tracker",
		"version": "1.0.0",
	})
}

// handleStatus reports every tracked zone connection.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"zones": s.dir.Status(),
	})
}

// handleSystem returns host information for the monitor dashboard.
func (s *Server) handleSystem(c *gin.Context) {
	info := util.GetSystemInfo()
	c.JSON(http.StatusOK, info)
}

// handleCommand sends one protocol command to a zone and returns the
// correlated reply. The request body is the command's header object; the
// waiter registers before the send so a fast reply cannot be missed.
func (s *Server) handleCommand(c *gin.Context) {
	zone := c.Param("server")
	command := c.Param("command")

	conn := s.dir.Get(zone)
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown server " + zone})
		return
	}
	if !conn.Engine.IsConnected() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server " + zone + " is not connected"})
		return
	}

	headers := map[string]any{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&headers); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	match := expectedResponse(command, headers)
	// Replies without a payload still satisfy an unconstrained wait.
	var matchSpec any
	if len(match) > 0 {
		matchSpec = match
	}
	await := command
	if alias, ok := commandAliases[command]; ok {
		await = alias
	}

	w := conn.Engine.ExpectCommand(await, matchSpec, commandWaitTimeout)
	if err := conn.Engine.SendJSON(command, headers); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send failed: " + err.Error()})
		return
	}

	resp, err := w.Await()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"error":            "Timeout",
			"server":           zone,
			"command":          command,
			"response_headers": match,
			"return_code":      -1,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"server":      zone,
		"command":     command,
		"return_code": resp.Status,
		"content":     resp.Payload,
	})
}

// expectedResponse derives the match spec for a command's reply from its
// request headers.
func expectedResponse(command string, headers map[string]any) map[string]any {
	proj, ok := responseProjections[command]
	if !ok {
		out := make(map[string]any, len(headers))
		for k, v := range headers {
			out[k] = v
		}
		return out
	}

	out := make(map[string]any, len(proj))
	for respPath, reqPath := range proj {
		if v, found := protocol.GetPath(headers, reqPath); found {
			protocol.SetPath(out, respPath, v)
		}
	}
	return out
}
