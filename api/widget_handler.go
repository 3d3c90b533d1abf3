package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow/widget"
)

func (a *API) getWidget(c *gin.Context) {
	p, err := a.eng.Widget().Store().GetWidget(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *API) listWidgetOrders(c *gin.Context) {
	orders, err := a.eng.Widget().Store().ListWidgetOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []*widget.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (a *API) getWidgetOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid order ID")
		return
	}
	o, err := a.eng.Widget().Store().GetWidgetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *API) restockWidgets(c *gin.Context) {
	if err := a.eng.Widget().Restock(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Restocked successfully"})
}

// widgetCheckout starts the checkout keyed by the path idempotency key and
// replies with the payment ID as plain text.
func (a *API) widgetCheckout(c *gin.Context) {
	paymentID, err := a.eng.Widget().Checkout(c.Request.Context(), a.eng.Runner(), c.Param("key"))
	if err != nil {
		if errors.Is(err, widget.ErrCheckoutFailed) {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Checkout failed"})
			return
		}
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, paymentID)
}

// widgetPayment delivers the payment status and replies with the order ID
// as plain text.
func (a *API) widgetPayment(c *gin.Context) {
	orderID, err := a.eng.Widget().Pay(c.Request.Context(), a.eng.Bus(), c.Param("payment_id"), c.Param("payment_status"))
	if err != nil {
		if errors.Is(err, widget.ErrPaymentFailed) {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Payment failed to process"})
			return
		}
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, orderID)
}
