package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/workflow"
)

func (a *API) listExecutions(c *gin.Context) {
	execs, err := a.eng.Runner().Executions(c.Request.Context(), workflow.ListOpts{
		Limit:  defaultLimit(queryInt(c.Query("limit"), 0)),
		Offset: queryInt(c.Query("offset"), 0),
		State:  workflow.State(c.Query("state")),
		Name:   c.Query("workflow"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if execs == nil {
		execs = []*workflow.Execution{}
	}
	c.JSON(http.StatusOK, execs)
}

func (a *API) getExecution(c *gin.Context) {
	exec, err := a.eng.Runner().Execution(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (a *API) executionTimeline(c *gin.Context) {
	entries, err := a.eng.Runner().Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) resumeExecution(c *gin.Context) {
	h, err := a.eng.Runner().Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, HandleResponse{ExecutionID: h.ID()})
}

func (a *API) retryExecution(c *gin.Context) {
	h, err := a.eng.Runner().Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, HandleResponse{ExecutionID: h.ID()})
}

func (a *API) replayExecution(c *gin.Context) {
	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h, err := a.eng.Runner().ReplayFrom(c.Request.Context(), c.Param("id"), req.From)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, HandleResponse{ExecutionID: h.ID()})
}

func (a *API) listDeadLetters(c *gin.Context) {
	entries, err := a.eng.DLQService().DLQStore().ListDLQ(c.Request.Context(), dlq.ListOpts{
		Limit:    defaultLimit(queryInt(c.Query("limit"), 0)),
		Offset:   queryInt(c.Query("offset"), 0),
		Workflow: c.Query("workflow"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) replayDeadLetter(c *gin.Context) {
	entryID, err := id.ParseDeadLetterID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid dead letter ID: "+err.Error())
		return
	}
	h, err := a.eng.DLQService().Replay(c.Request.Context(), entryID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, HandleResponse{ExecutionID: h.ID()})
}

func (a *API) sweep(c *gin.Context) {
	resumed, retried, err := a.eng.Recovery().Sweep(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SweepResponse{Resumed: resumed, Retried: retried})
}
