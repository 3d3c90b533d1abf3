package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow/payment"
	"github.com/xraph/escrow/shop"
)

func (a *API) listProducts(c *gin.Context) {
	products, err := a.eng.Shop().Store().ListProducts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]ProductView, len(products))
	for i, p := range products {
		views[i] = ProductView{Product: p, DisplayPrice: p.DisplayPrice()}
	}
	c.JSON(http.StatusOK, views)
}

func (a *API) getProduct(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid product ID")
		return
	}
	p, err := a.eng.Shop().Store().GetProduct(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProductView{Product: p, DisplayPrice: p.DisplayPrice()})
}

func (a *API) addToCart(c *gin.Context) {
	var req CartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := a.eng.Shop().Store().AddToCart(c.Request.Context(), req.Username, req.ProductID); err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "Success")
}

func (a *API) getCart(c *gin.Context) {
	var req CartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	items, err := a.eng.Shop().Store().GetCart(c.Request.Context(), req.Username)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []shop.LineItem{}
	}
	c.JSON(http.StatusOK, items)
}

// checkoutSession starts a checkout and redirects the customer to the
// payment page, or to the cancel page when no session could be created.
func (a *API) checkoutSession(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		badRequest(c, "username is required")
		return
	}
	origin := c.GetHeader("Origin")
	if origin == "" {
		origin = a.eng.Config().LocalHost
	}

	sess, err := a.eng.Shop().Checkout(c.Request.Context(), a.eng.Runner(), shop.CheckoutInput{
		Username: username,
		Origin:   origin,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.URL == "" {
		c.Redirect(http.StatusFound, origin+"/checkout/cancel")
		return
	}
	c.Redirect(http.StatusFound, sess.URL)
}

// paymentWebhook forwards a processor notification to its checkout.
// Dropped notifications are acknowledged so the processor does not
// retry them.
func (a *API) paymentWebhook(c *gin.Context) {
	var n payment.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		badRequest(c, err.Error())
		return
	}
	err := a.eng.Shop().HandleWebhook(c.Request.Context(), a.eng.Bus(), n)
	if err != nil && !errors.Is(err, shop.ErrWebhookDropped) {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
