package api

import (
	"errors"
	"net/http"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/checkout"
	"storefront/internal/domain/discount"
	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/domain/stock"
	"storefront/internal/handler/httperr"
	"storefront/internal/usecase/commands"
	"storefront/internal/usecase/queries"

	"github.com/gin-gonic/gin"
)

const (
	KindInvalidRequest          = "INVALID_REQUEST"
	KindUnverified              = "IDENTITY_NOT_VERIFIED"
	KindForbidden               = "FORBIDDEN"
	KindUnauthenticated         = "UNAUTHENTICATED"
	KindNotFound                = "NOT_FOUND"
	KindProductUnavailable      = "PRODUCT_UNAVAILABLE"
	KindInsufficientStock       = "INSUFFICIENT_STOCK"
	KindCheckoutInProgress      = "CHECKOUT_IN_PROGRESS"
	KindIntentConflict          = "INTENT_CONFLICT"
	KindConcurrentUpdate        = "CONCURRENT_UPDATE"
	KindInvalidDiscount         = "INVALID_DISCOUNT"
	KindAmountMismatch          = "AMOUNT_MISMATCH"
	KindInvalidTransition       = "INVALID_TRANSITION"
	KindPaymentDeclined         = "PAYMENT_DECLINED"
	KindPaymentPending          = "PAYMENT_PENDING"
	KindGatewayError            = "GATEWAY_ERROR"
	KindPersistenceAfterCapture = "PERSISTENCE_AFTER_CAPTURE"
	KindInternal                = "INTERNAL"
)

// abortWithDomainError is the single place where use-case errors become HTTP responses.
func abortWithDomainError(c *gin.Context, err error) {
	var (
		shortage    *stock.InsufficientStockError
		invalidCode *discount.InvalidError
		transition  *order.InvalidTransitionError
		capture     *payment.CaptureError
		persistence *commands.PersistenceAfterCaptureError
	)

	switch {
	case errors.As(err, &persistence):
		detail := gin.H{"provider": persistence.Provider, "externalRef": persistence.ExternalRef}
		if persistence.CaseID != nil {
			detail["reconciliationCaseId"] = persistence.CaseID.String()
		}
		httperr.AbortWithKind(c, http.StatusInternalServerError, KindPersistenceAfterCapture, err,
			"Payment was captured but the order could not be recorded; support has been notified", detail)

	case errors.As(err, &shortage):
		httperr.AbortWithKind(c, http.StatusConflict, KindInsufficientStock, err,
			"Insufficient stock", gin.H{"shortages": shortage.Shortages})
	case errors.Is(err, commands.ErrCheckoutInProgress):
		httperr.AbortWithKind(c, http.StatusConflict, KindCheckoutInProgress, err,
			"Checkout is already in progress for this cart", nil)
	case errors.Is(err, payment.ErrIntentConflict):
		httperr.AbortWithKind(c, http.StatusConflict, KindIntentConflict, err,
			"Checkout was started with different payment parameters", nil)
	case errors.Is(err, commands.ErrConcurrentTransition),
		errors.Is(err, commands.ErrAttemptConflict),
		errors.Is(err, commands.ErrIntentNotCaptured):
		httperr.AbortWithKind(c, http.StatusConflict, KindConcurrentUpdate, err,
			"Resource changed concurrently, retry the request", nil)

	case errors.As(err, &invalidCode):
		httperr.AbortWithKind(c, http.StatusUnprocessableEntity, KindInvalidDiscount, err,
			"Discount code cannot be applied", gin.H{"reason": invalidCode.Reason})
	case errors.As(err, &transition):
		httperr.AbortWithKind(c, http.StatusUnprocessableEntity, KindInvalidTransition, err,
			"Order status transition is not allowed", gin.H{"from": transition.From, "to": transition.To})
	case errors.Is(err, commands.ErrProductNotFound):
		httperr.AbortWithKind(c, http.StatusUnprocessableEntity, KindProductUnavailable, err,
			"Product not found or unavailable", nil)

	case errors.As(err, &capture):
		abortWithCaptureError(c, capture)
	case errors.Is(err, payment.ErrAmountMismatch):
		httperr.AbortWithKind(c, http.StatusUnprocessableEntity, KindAmountMismatch, err,
			"Payment amount does not match the order total", nil)
	case errors.Is(err, payment.ErrGatewayFailure):
		httperr.AbortWithKind(c, http.StatusBadGateway, KindGatewayError, err,
			"Payment provider error", nil)

	case errors.Is(err, auth.ErrIdentityNotVerified):
		httperr.AbortWithKind(c, http.StatusForbidden, KindUnverified, err,
			"Account must be verified before checkout", nil)
	case errors.Is(err, commands.ErrStaffOnly):
		httperr.AbortWithKind(c, http.StatusForbidden, KindForbidden, err,
			"Insufficient permissions", nil)
	case errors.Is(err, commands.ErrInvalidWebhookSecret):
		httperr.AbortWithKind(c, http.StatusUnauthorized, KindUnauthenticated, err,
			"Invalid webhook signature", nil)

	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrIntentNotFound):
		httperr.AbortWithKind(c, http.StatusNotFound, KindNotFound, err, "Not found", nil)

	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrTooManyLines),
		errors.Is(err, order.ErrInvalidAddress),
		errors.Is(err, order.ErrMissingTracking),
		errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, payment.ErrUnsupportedProvider),
		errors.Is(err, queries.ErrInvalidCursor),
		errors.Is(err, queries.ErrInvalidFilter):
		httperr.AbortWithKind(c, http.StatusBadRequest, KindInvalidRequest, err, err.Error(), nil)

	default:
		httperr.AbortWithKind(c, http.StatusInternalServerError, KindInternal, err, "Internal server error", nil)
	}
}

func abortWithCaptureError(c *gin.Context, capture *payment.CaptureError) {
	detail := gin.H{"provider": capture.Provider, "reason": capture.Reason}
	switch {
	case capture.Pending:
		// Reservation is kept; the sweeper or a webhook settles the outcome.
		httperr.AbortWithKind(c, http.StatusAccepted, KindPaymentPending, capture,
			"Payment outcome is not yet known", detail)
	case capture.Outcome == payment.OutcomeDeclined:
		httperr.AbortWithKind(c, http.StatusPaymentRequired, KindPaymentDeclined, capture,
			"Payment was declined", detail)
	case capture.Outcome == payment.OutcomeAmountMismatch:
		httperr.AbortWithKind(c, http.StatusUnprocessableEntity, KindAmountMismatch, capture,
			"Payment amount does not match the order total", detail)
	default:
		httperr.AbortWithKind(c, http.StatusBadGateway, KindGatewayError, capture,
			"Payment provider error", detail)
	}
}

func abortInvalidRequest(c *gin.Context, err error, msg string) {
	httperr.AbortWithKind(c, http.StatusBadRequest, KindInvalidRequest, err, msg, nil)
}

var errMissingIdentity = errors.New("request has no authenticated identity")

func abortUnauthenticated(c *gin.Context) {
	httperr.AbortWithKind(c, http.StatusUnauthorized, KindUnauthenticated, errMissingIdentity, "Unauthorized", nil)
}
