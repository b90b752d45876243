package api

import (
	"net/http"

	"storefront/internal/domain/payment"
	reqdto "storefront/internal/handler/dto/request"
	resdto "storefront/internal/handler/dto/response"
	"storefront/internal/usecase/commands"

	"github.com/gin-gonic/gin"
)

const webhookSecretHeader = "X-Webhook-Secret"

type WebhookHandler struct {
	cmds commands.PaymentEventCommands
}

func NewWebhookHandler(cmds commands.PaymentEventCommands) *WebhookHandler {
	return &WebhookHandler{cmds: cmds}
}

// @Summary Payment provider callback
// @Description Apply an asynchronous payment event. Redelivery of the same event is harmless.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Payment provider (paypal, card, wallet)"
// @Param X-Webhook-Secret header string true "Shared webhook secret"
// @Param request body reqdto.PaymentWebhookRequest true "Provider event"
// @Success 200 {object} resdto.PaymentEventResponse
// @Failure 400 {object} httperr.Response
// @Failure 401 {object} httperr.Response
// @Failure 404 {object} httperr.Response
// @Failure 422 {object} httperr.Response
// @Failure 502 {object} httperr.Response
// @Router /webhooks/payments/{provider} [post]
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	provider, err := payment.ParseProvider(c.Param("provider"))
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	var req reqdto.PaymentWebhookRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		abortInvalidRequest(c, bindErr, "Invalid request")
		return
	}
	result, err := h.cmds.Handle(c.Request.Context(), req.ToCommand(provider, c.GetHeader(webhookSecretHeader)))
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, resdto.FromPaymentEventResult(result))
}
