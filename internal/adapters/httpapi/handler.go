// Package httpapi exposes the ledger service to the workflow UI over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cutledger/internal/core"
	"cutledger/internal/fabric"
	"cutledger/pkg/domain"
)

// Handler serves the ledger operations of Service as JSON over gin.
type Handler struct {
	Service *core.Service
	Logger  *zap.Logger
	// Gatherer backs /metrics; nil skips the route.
	Gatherer prometheus.Gatherer
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// Register mounts the health, metrics and /api/v1 routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	if h.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	api.GET("/articles", h.listArticles)
	api.GET("/articles/:article/ledger", h.ledger)
	api.POST("/articles/:article/reconcile", h.reconcile)
	api.POST("/rolls", h.receiveRoll)

	orders := api.Group("/orders")
	orders.GET("", h.listOrders)
	orders.POST("", h.createOrder)
	orders.GET("/:id", h.getOrder)
	orders.POST("/:id/cut", h.confirmCut)
	orders.POST("/:id/recut", h.confirmRecut)
	orders.POST("/:id/reservations", h.reserve)
	orders.DELETE("/:id/reservations", h.release)
	orders.POST("/:id/status", h.advance)
	orders.POST("/:id/qc", h.qc)
	orders.GET("/:id/recuts", h.recuts)
	orders.GET("/:id/allocations", h.allocations)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type cutRequest struct {
	ReportedMeters decimal.Decimal       `json:"reported_meters"`
	Recuts         []fabric.RecutRequest `json:"recuts"`
}

type recutRequest struct {
	Recuts []fabric.RecutRequest `json:"recuts"`
}

type cutResponse struct {
	core.CutOutcome
	Warnings []violationDTO `json:"warnings"`
}

func (h *Handler) confirmCut(c *gin.Context) {
	var req cutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Service.ConfirmInitialCut(c.Request.Context(), c.Param("id"), req.ReportedMeters, req.Recuts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cutResponse{CutOutcome: out, Warnings: violations(domain.Result{Violations: out.Result.Warnings()})})
}

func (h *Handler) confirmRecut(c *gin.Context) {
	var req recutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Service.ConfirmRecut(c.Request.Context(), c.Param("id"), req.Recuts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cutResponse{CutOutcome: out, Warnings: violations(domain.Result{Violations: out.Result.Warnings()})})
}

type reserveRequest struct {
	Rolls []fabric.RollRequest `json:"rolls"`
}

func (h *Handler) reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, _, err := h.Service.ReserveRolls(c.Request.Context(), c.Param("id"), req.Rolls)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) release(c *gin.Context) {
	order, _, err := h.Service.ReleaseReservations(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) advance(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		badRequest(c, errors.New("status is required"))
		return
	}
	next, err := domain.ParseStatus(req.Status)
	if err != nil {
		badRequest(c, err)
		return
	}
	order, _, err := h.Service.AdvanceStatus(c.Request.Context(), c.Param("id"), next)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type qcRequest struct {
	Approved *bool `json:"approved"`
}

func (h *Handler) qc(c *gin.Context) {
	var req qcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Approved == nil {
		badRequest(c, errors.New("approved is required"))
		return
	}
	order, _, err := h.Service.RecordQCOutcome(c.Request.Context(), c.Param("id"), *req.Approved)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) receiveRoll(c *gin.Context) {
	var roll domain.FabricRoll
	if err := c.ShouldBindJSON(&roll); err != nil {
		badRequest(c, err)
		return
	}
	roll.Base = domain.Base{}
	created, _, err := h.Service.ReceiveRoll(c.Request.Context(), roll)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) createOrder(c *gin.Context) {
	var order domain.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		badRequest(c, err)
		return
	}
	order.Version = 0
	created, _, err := h.Service.CreateOrder(c.Request.Context(), order)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.Service.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	article := domain.NormalizeArticle(c.Query("article"))
	orders, err := h.Service.Orders(c.Request.Context(), article)
	if err != nil {
		h.fail(c, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"items": orders, "total": len(orders)})
}

func (h *Handler) recuts(c *gin.Context) {
	entries, err := h.Service.Recuts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []domain.RecutEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "total": len(entries)})
}

func (h *Handler) allocations(c *gin.Context) {
	order, err := h.Service.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	records, err := h.Service.Allocations(c.Request.Context(), order.Article, order.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "total": len(records)})
}

func (h *Handler) listArticles(c *gin.Context) {
	articles, err := h.Service.Articles(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if articles == nil {
		articles = []domain.ArticleKey{}
	}
	c.JSON(http.StatusOK, gin.H{"items": articles, "total": len(articles)})
}

type ledgerResponse struct {
	Article   domain.ArticleKey   `json:"article"`
	Rolls     []domain.FabricRoll `json:"rolls"`
	Total     decimal.Decimal     `json:"total_meters"`
	Free      decimal.Decimal     `json:"free_meters"`
	RollCount int                 `json:"roll_count"`
}

func (h *Handler) ledger(c *gin.Context) {
	ledger, err := h.Service.Ledger(c.Request.Context(), domain.NormalizeArticle(c.Param("article")))
	if err != nil {
		h.fail(c, err)
		return
	}
	rolls := ledger.Rolls
	if rolls == nil {
		rolls = []domain.FabricRoll{}
	}
	c.JSON(http.StatusOK, ledgerResponse{
		Article:   ledger.Article,
		Rolls:     rolls,
		Total:     ledger.TotalMeters(),
		Free:      ledger.FreeMeters(),
		RollCount: len(rolls),
	})
}

func (h *Handler) reconcile(c *gin.Context) {
	article := domain.NormalizeArticle(c.Param("article"))
	rolls, res, err := h.Service.Reconcile(c.Request.Context(), article)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"article":         article,
		"rolls_rewritten": len(rolls),
		"warnings":        violations(domain.Result{Violations: res.Warnings()}),
	})
}
