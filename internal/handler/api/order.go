package api

import (
	"net/http"
	"strconv"

	"storefront/internal/domain/order"
	reqdto "storefront/internal/handler/dto/request"
	resdto "storefront/internal/handler/dto/response"
	"storefront/internal/handler/middleware"
	"storefront/internal/usecase/commands"
	"storefront/internal/usecase/queries"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type OrderHandler struct {
	cmds commands.OrderStatusCommands
	q    queries.OrderQueries
}

func NewOrderHandler(cmds commands.OrderStatusCommands, q queries.OrderQueries) *OrderHandler {
	return &OrderHandler{cmds: cmds, q: q}
}

// @Summary Get order
// @Description Get one of the caller's orders with items and status history
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Success 200 {object} resdto.OrderResponse
// @Failure 400 {object} httperr.Response
// @Failure 401 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Router /orders/{id} [get]
func (h *OrderHandler) Get(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortInvalidRequest(c, err, "Invalid id")
		return
	}
	view, err := h.q.GetByID(c.Request.Context(), identity, id)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	res, err := resdto.FromOrderView(view)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary List my orders
// @Description List the caller's orders, newest first, with keyset pagination
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max items (default 20)"
// @Param after query string false "Cursor for keyset pagination"
// @Success 200 {object} resdto.OrderListResponse
// @Failure 400 {object} httperr.Response
// @Failure 401 {object} httperr.Response
// @Router /orders [get]
func (h *OrderHandler) ListMine(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}
	items, next, err := h.q.ListMine(c.Request.Context(), identity, cursorFromQuery(c), limitFromQuery(c))
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	res, err := resdto.FromOrderList(items, next)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary List all orders
// @Description Staff view of all orders with an optional status filter
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Order status filter"
// @Param limit query int false "Max items (default 20)"
// @Param after query string false "Cursor for keyset pagination"
// @Success 200 {object} resdto.OrderListResponse
// @Failure 400 {object} httperr.Response
// @Failure 403 {object} httperr.Response
// @Router /admin/orders [get]
func (h *OrderHandler) ListAll(c *gin.Context) {
	var filters queries.OrderFilters
	if v := c.Query("status"); v != "" {
		st, err := order.ParseStatus(v)
		if err != nil {
			abortWithDomainError(c, err)
			return
		}
		filters.Status = &st
	}
	items, next, err := h.q.ListAll(c.Request.Context(), filters, cursorFromQuery(c), limitFromQuery(c))
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	res, err := resdto.FromOrderList(items, next)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Change order status
// @Description Move an order through PENDING, PROCESSING, SHIPPED, DELIVERED or CANCELLED
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Param request body reqdto.TransitionOrderStatusRequest true "Status transition"
// @Success 200 {object} resdto.TransitionOrderStatusResponse
// @Failure 400 {object} httperr.Response
// @Failure 403 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Failure 409 {object} httperr.Response
// @Failure 422 {object} httperr.Response
// @Router /admin/orders/{id}/status [post]
func (h *OrderHandler) TransitionStatus(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortInvalidRequest(c, err, "Invalid id")
		return
	}
	var req reqdto.TransitionOrderStatusRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		abortInvalidRequest(c, bindErr, "Invalid request")
		return
	}
	in, err := req.ToCommand(id)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	result, err := h.cmds.Transition(c.Request.Context(), identity, in)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resdto.FromTransitionResult(result))
}

func cursorFromQuery(c *gin.Context) *queries.Cursor {
	if after := c.Query("after"); after != "" {
		return &queries.Cursor{After: after}
	}
	return nil
}

func limitFromQuery(c *gin.Context) int {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if iv, e := strconv.Atoi(v); e == nil {
			limit = queries.ValidateLimit(iv)
		}
	}
	return limit
}
