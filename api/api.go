// Package api exposes the bank, shop, widget store, payment processor and
// operations endpoints over HTTP using gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from an Engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng, logger: eng.Logger()}
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	a.registerBankRoutes(r)
	a.registerShopRoutes(r)
	a.registerWidgetRoutes(r)
	a.registerPaymentRoutes(r)
	a.registerOpsRoutes(r)
}

func (a *API) registerBankRoutes(r gin.IRouter) {
	g := r.Group("/api")
	g.POST("/deposit", a.deposit)
	g.POST("/withdraw", a.withdraw)
	g.POST("/transfer", a.transfer)
	g.POST("/accounts", a.createAccount)
	g.GET("/accounts", a.listAccounts)
	g.GET("/accounts/:id", a.getAccount)
	g.GET("/transaction_history/:id", a.transactionHistory)
}

func (a *API) registerShopRoutes(r gin.IRouter) {
	g := r.Group("/api")
	g.GET("/products", a.listProducts)
	g.GET("/products/:id", a.getProduct)
	g.POST("/add_to_cart", a.addToCart)
	g.POST("/get_cart", a.getCart)
	g.POST("/checkout_session", a.checkoutSession)
	r.POST("/payment_webhook", a.paymentWebhook)
}

func (a *API) registerWidgetRoutes(r gin.IRouter) {
	g := r.Group("/widget")
	g.GET("/product", a.getWidget)
	g.GET("/orders", a.listWidgetOrders)
	g.GET("/order/:id", a.getWidgetOrder)
	g.POST("/restock", a.restockWidgets)
	g.POST("/checkout/:key", a.widgetCheckout)
	g.POST("/payment_webhook/:payment_id/:payment_status", a.widgetPayment)
}

func (a *API) registerPaymentRoutes(r gin.IRouter) {
	g := r.Group("/payment/api")
	g.POST("/create_payment_session", a.createPaymentSession)
	g.GET("/session/:id", a.getPaymentSession)
	g.POST("/submit_payment", a.submitPayment)
	g.POST("/cancel_payment", a.cancelPayment)
}

func (a *API) registerOpsRoutes(r gin.IRouter) {
	g := r.Group("/v1")
	g.GET("/executions", a.listExecutions)
	g.GET("/executions/:id", a.getExecution)
	g.GET("/executions/:id/timeline", a.executionTimeline)
	g.POST("/executions/:id/resume", a.resumeExecution)
	g.POST("/executions/:id/retry", a.retryExecution)
	g.POST("/executions/:id/replay", a.replayExecution)
	g.GET("/deadletters", a.listDeadLetters)
	g.POST("/deadletters/:id/replay", a.replayDeadLetter)
	g.POST("/recovery/sweep", a.sweep)
	g.GET("/events", a.events)
	g.GET("/events/stats", a.streamStats)

	r.GET("/metrics", gin.WrapH(a.eng.Metrics().Handler()))
	r.GET("/healthz", a.healthz)
}

func (a *API) healthz(c *gin.Context) {
	ctx := c.Request.Context()
	if err := a.eng.Store().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	if err := a.eng.EngineStore().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// resultContext bounds a handler that waits for a workflow result.
func (a *API) resultContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), a.eng.Config().ResultTimeout)
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
