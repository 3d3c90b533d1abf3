package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow/payment"
)

func (a *API) createPaymentSession(c *gin.Context) {
	var req payment.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	view, err := a.eng.Payment().CreateSession(c.Request.Context(), a.eng.Runner(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *API) getPaymentSession(c *gin.Context) {
	view, err := a.eng.Payment().GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *API) submitPayment(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := a.eng.Payment().Submit(c.Request.Context(), a.eng.Bus(), req.SessionID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) cancelPayment(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := a.eng.Payment().Cancel(c.Request.Context(), a.eng.Bus(), req.SessionID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
