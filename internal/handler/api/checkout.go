package api

import (
	"net/http"

	reqdto "storefront/internal/handler/dto/request"
	resdto "storefront/internal/handler/dto/response"
	"storefront/internal/handler/middleware"
	"storefront/internal/usecase/commands"

	"github.com/gin-gonic/gin"
)

const idempotencyKeyHeader = "Idempotency-Key"

type CheckoutHandler struct {
	cmds commands.CheckoutCommands
}

func NewCheckoutHandler(cmds commands.CheckoutCommands) *CheckoutHandler {
	return &CheckoutHandler{cmds: cmds}
}

// @Summary Prepare checkout
// @Description Reserve stock and create a payment intent for approval-based providers
// @Tags checkout
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Distinguishes deliberate repeat purchases of an identical cart"
// @Param request body reqdto.PrepareCheckoutRequest true "Prepare checkout request"
// @Success 201 {object} resdto.PrepareCheckoutResponse
// @Success 200 {object} resdto.PrepareCheckoutResponse "Attempt already prepared or completed"
// @Failure 400 {object} httperr.Response
// @Failure 403 {object} httperr.Response
// @Failure 409 {object} httperr.Response
// @Failure 422 {object} httperr.Response
// @Failure 502 {object} httperr.Response
// @Router /checkout/intents [post]
func (h *CheckoutHandler) Prepare(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}
	var req reqdto.PrepareCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c, err, "Invalid request")
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	applyIdempotencyKey(c, &cmd)

	result, err := h.cmds.Prepare(c.Request.Context(), identity, cmd)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	status := http.StatusCreated
	if result.OrderID != nil {
		status = http.StatusOK
	}
	c.JSON(status, resdto.FromPrepareResult(result))
}

// @Summary Checkout
// @Description Price the cart, reserve stock, capture payment and record the order. Replays of the same cart return the original order.
// @Tags checkout
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Distinguishes deliberate repeat purchases of an identical cart"
// @Param request body reqdto.CheckoutRequest true "Checkout request"
// @Success 201 {object} resdto.CheckoutResponse
// @Success 200 {object} resdto.CheckoutResponse "Replay of a completed checkout"
// @Failure 400 {object} httperr.Response
// @Failure 402 {object} httperr.Response
// @Failure 403 {object} httperr.Response
// @Failure 409 {object} httperr.Response
// @Failure 422 {object} httperr.Response
// @Failure 500 {object} httperr.Response
// @Failure 502 {object} httperr.Response
// @Router /checkout [post]
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		abortUnauthenticated(c)
		return
	}
	var req reqdto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidRequest(c, err, "Invalid request")
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	applyIdempotencyKey(c, &cmd)

	result, err := h.cmds.Checkout(c.Request.Context(), identity, cmd)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.Header("Location", "/api/orders/"+result.OrderID.String())
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resdto.FromCheckoutResult(result))
}

// applyIdempotencyKey lets the header stand in for the body nonce.
func applyIdempotencyKey(c *gin.Context, cmd *commands.CheckoutRequest) {
	if cmd.Nonce != "" {
		return
	}
	cmd.Nonce = c.GetHeader(idempotencyKeyHeader)
}
