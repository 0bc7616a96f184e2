package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/session"
)

type handler struct {
	eng Orchestrator
}

type startRequest struct {
	Participant string   `json:"participant" binding:"required"`
	Agents      []string `json:"agents" binding:"required,min=1"`
}

type agentsRequest struct {
	Agents []string `json:"agents" binding:"required,min=1"`
}

type agentRequest struct {
	Name string `json:"name" binding:"required"`
}

type participantRequest struct {
	Participant string `json:"participant" binding:"required"`
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

type proximityRequest struct {
	Nearby []string `json:"nearby" binding:"required"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type settingsRequest struct {
	ChatEnabled    *bool `json:"chatEnabled"`
	AmbientEnabled *bool `json:"ambientEnabled"`
}

// SessionDetail is the body of GET /sessions/:id.
type SessionDetail struct {
	Session session.Info         `json:"session"`
	History []core.MessageRecord `json:"history"`
}

func (h *handler) health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) listSessions(c *gin.Context) {
	respond(c, http.StatusOK, h.eng.Sessions())
}

func (h *handler) getSession(c *gin.Context) {
	info, msgs, err := h.eng.Session(c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, SessionDetail{Session: info, History: core.ToRecords(msgs)})
}

func (h *handler) startConversation(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	info, err := h.eng.StartConversation(c.Request.Context(), req.Participant, req.Agents)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, info)
}

func (h *handler) startGroup(c *gin.Context) {
	var req agentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	info, err := h.eng.StartGroup(c.Request.Context(), req.Agents)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, info)
}

func (h *handler) startAmbient(c *gin.Context) {
	var req agentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	info, err := h.eng.StartAmbient(c.Request.Context(), req.Agents)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, info)
}

func (h *handler) endSession(c *gin.Context) {
	if err := h.eng.EndSession(c.Param("id")); err != nil {
		failWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) addAgent(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.eng.AddAgent(c.Request.Context(), c.Param("id"), req.Name); err != nil {
		failWith(c, err)
		return
	}
	h.sessionInfo(c, http.StatusOK)
}

func (h *handler) removeAgent(c *gin.Context) {
	if err := h.eng.RemoveAgent(c.Request.Context(), c.Param("id"), c.Param("name")); err != nil {
		failWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) joinSession(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.eng.JoinConversation(c.Param("id"), req.Participant); err != nil {
		failWith(c, err)
		return
	}
	h.sessionInfo(c, http.StatusOK)
}

func (h *handler) requestTurn(c *gin.Context) {
	if err := h.eng.RequestTurn(c.Param("id")); err != nil {
		failWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) participantMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.eng.HandleMessage(c.Request.Context(), c.Param("id"), req.Text); err != nil {
		failWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) proximity(c *gin.Context) {
	var req proximityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.eng.HandleProximity(c.Request.Context(), c.Param("id"), req.Nearby)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

func (h *handler) leaveSession(c *gin.Context) {
	if err := h.eng.LeaveConversation(c.Param("id")); err != nil {
		failWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) agentMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.eng.AddAgentMessage(c.Request.Context(), c.Param("name"), req.Text); err != nil {
		failWith(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	name := c.Param("name")
	h.eng.SetMuted(name, *req.Muted)
	respond(c, http.StatusOK, gin.H{"agent": name, "muted": h.eng.Muted(name)})
}

func (h *handler) getSettings(c *gin.Context) {
	respond(c, http.StatusOK, h.eng.Settings())
}

func (h *handler) putSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.ChatEnabled != nil {
		h.eng.SetChatEnabled(*req.ChatEnabled)
	}
	if req.AmbientEnabled != nil {
		h.eng.SetAmbientEnabled(*req.AmbientEnabled)
	}
	respond(c, http.StatusOK, h.eng.Settings())
}

func (h *handler) sessionInfo(c *gin.Context, status int) {
	info, _, err := h.eng.Session(c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, status, info)
}
