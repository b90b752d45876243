//go:build unit

package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/discount"
	"storefront/internal/domain/payment"
	"storefront/internal/domain/stock"
	"storefront/internal/handler/api"
	resdto "storefront/internal/handler/dto/response"
	"storefront/internal/handler/middleware"
	"storefront/internal/usecase/commands"
	"storefront/tests/common/builder"
	"storefront/tests/common/httptest"
	"storefront/tests/common/testutil"
	commandsmock "storefront/tests/mock/commands"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type CheckoutHandlerTestSuite struct {
	suite.Suite
	router       *gin.Engine
	mockCtrl     *gomock.Controller
	mockCommands *commandsmock.MockCheckoutCommands
	handler      *api.CheckoutHandler
	identity     auth.Identity
}

func (s *CheckoutHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	s.router.Use(middleware.ErrorHandler())

	s.mockCtrl = gomock.NewController(s.T())
	s.mockCommands = commandsmock.NewMockCheckoutCommands(s.mockCtrl)
	s.handler = api.NewCheckoutHandler(s.mockCommands)

	userID := uuid.New()
	s.identity = auth.Identity{UserID: &userID, Role: auth.RoleCustomer, Verified: true}

	s.router.POST("/checkout", fakeAuth(&s.identity), s.handler.Checkout)
	s.router.POST("/checkout/intents", fakeAuth(&s.identity), s.handler.Prepare)
}

func (s *CheckoutHandlerTestSuite) TearDownTest() {
	s.mockCtrl.Finish()
}

func TestCheckoutHandlerSuite(t *testing.T) {
	suite.Run(t, new(CheckoutHandlerTestSuite))
}

// fakeAuth stands in for RequireAuth; requests without a bearer token are rejected.
func fakeAuth(identity *auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "Unauthorized", "kind": api.KindUnauthenticated}})
			return
		}
		middleware.SetIdentity(c, *identity)
		c.Next()
	}
}

type testCaseCheckout struct {
	name       string
	mutate     func(m map[string]any)
	expectCode int
}

// ================================================================================
// TestCheckout
// ================================================================================

func (s *CheckoutHandlerTestSuite) TestCheckout() {
	url := "/checkout"
	b := builder.NewCheckoutBuilder()
	reqBody := b.BuildRequestDTO()

	s.Run("success: returns 201 with the order id and location", func() {
		result := b.BuildResult()
		s.mockCommands.EXPECT().Checkout(gomock.Any(), s.identity, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ auth.Identity, req commands.CheckoutRequest) (*commands.CheckoutResult, error) {
				s.Equal(payment.ProviderCard, req.Provider)
				s.Require().Len(req.Cart, 1)
				s.Equal(b.Lines[0].ProductID, req.Cart[0].ProductID)
				s.Equal("tok_visa", req.Confirmation.Token)
				s.Equal("GB", req.ShippingAddress.Country)
				s.Equal("retry-1", req.Nonce)
				return result, nil
			}).Times(1)

		rec := httptest.PerformRequestWithHeaders(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token",
			map[string]string{"Idempotency-Key": "retry-1"})

		var body resdto.CheckoutResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusCreated, &body)
		s.Equal(result.OrderID.String(), body.OrderID)
		s.Equal("45.99", body.Quote.Total.StringFixed(2))
		s.False(body.Replayed)
		httptest.AssertHeaders(s.T(), rec, map[string]string{"Location": "/api/orders/" + result.OrderID.String()})
	})

	s.Run("success: replay returns 200", func() {
		result := b.BuildResult()
		result.Replayed = true
		s.mockCommands.EXPECT().Checkout(gomock.Any(), gomock.Any(), gomock.Any()).Return(result, nil).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token")

		var body resdto.CheckoutResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.True(body.Replayed)
	})

	s.Run("error: 400 Bad Request on validation errors", func() {
		cases := []testCaseCheckout{
			{name: "missing items", mutate: testutil.Field("items", nil), expectCode: http.StatusBadRequest},
			{name: "empty items", mutate: testutil.Field("items", []any{}), expectCode: http.StatusBadRequest},
			{name: "zero quantity", mutate: testutil.Field("items", []any{map[string]any{"productId": uuid.NewString(), "quantity": 0}}), expectCode: http.StatusBadRequest},
			{name: "unknown payment method", mutate: testutil.Field("paymentMethod", "BITCOIN"), expectCode: http.StatusBadRequest},
			{name: "missing shipping address", mutate: testutil.Field("shippingAddress", nil), expectCode: http.StatusBadRequest},
			{name: "three letter country", mutate: testutil.Field("shippingAddress", map[string]any{
				"name": "A", "line1": "B", "city": "C", "postalCode": "D", "country": "GBR",
			}), expectCode: http.StatusBadRequest},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				requestMap := testutil.DtoMap(s.T(), reqBody, tc.mutate)
				rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, requestMap, "bearer-token")
				httptest.AssertErrorKind(s.T(), rec, tc.expectCode, api.KindInvalidRequest)
			})
		}
	})

	s.Run("error: 401 without token", func() {
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "")
		httptest.AssertErrorKind(s.T(), rec, http.StatusUnauthorized, api.KindUnauthenticated)
	})

	s.Run("error: use-case failures map to status and kind", func() {
		caseID := uuid.New()
		productID := uuid.New()
		cases := []struct {
			name       string
			err        error
			expectCode int
			expectKind string
		}{
			{
				name:       "insufficient stock",
				err:        &stock.InsufficientStockError{Shortages: []stock.Shortage{{ProductID: productID, Requested: 2, Available: 1}}},
				expectCode: http.StatusConflict,
				expectKind: api.KindInsufficientStock,
			},
			{name: "in progress", err: commands.ErrCheckoutInProgress, expectCode: http.StatusConflict, expectKind: api.KindCheckoutInProgress},
			{name: "intent conflict", err: payment.ErrIntentConflict, expectCode: http.StatusConflict, expectKind: api.KindIntentConflict},
			{name: "expired discount", err: discount.ErrExpired, expectCode: http.StatusUnprocessableEntity, expectKind: api.KindInvalidDiscount},
			{name: "inactive product", err: commands.ErrProductNotFound, expectCode: http.StatusUnprocessableEntity, expectKind: api.KindProductUnavailable},
			{
				name:       "declined",
				err:        payment.NewCaptureError(payment.ProviderCard, payment.OutcomeDeclined, "card_declined", nil),
				expectCode: http.StatusPaymentRequired,
				expectKind: api.KindPaymentDeclined,
			},
			{
				name:       "amount mismatch",
				err:        payment.NewCaptureError(payment.ProviderPayPal, payment.OutcomeAmountMismatch, "approved 40.00", nil),
				expectCode: http.StatusUnprocessableEntity,
				expectKind: api.KindAmountMismatch,
			},
			{
				name:       "gateway failure",
				err:        payment.NewCaptureError(payment.ProviderCard, payment.OutcomeGatewayError, "timeout", errors.New("deadline exceeded")),
				expectCode: http.StatusBadGateway,
				expectKind: api.KindGatewayError,
			},
			{
				name: "pending capture",
				err: &payment.CaptureError{
					Outcome: payment.OutcomeGatewayError, Provider: payment.ProviderCard, Reason: "lost response", Pending: true,
				},
				expectCode: http.StatusAccepted,
				expectKind: api.KindPaymentPending,
			},
			{name: "unverified", err: auth.ErrIdentityNotVerified, expectCode: http.StatusForbidden, expectKind: api.KindUnverified},
			{name: "unexpected", err: errors.New("boom"), expectCode: http.StatusInternalServerError, expectKind: api.KindInternal},
			{
				name: "persistence after capture",
				err: &commands.PersistenceAfterCaptureError{
					CaseID: &caseID, Provider: payment.ProviderCard, ExternalRef: "pi_1", Err: errors.New("db down"),
				},
				expectCode: http.StatusInternalServerError,
				expectKind: api.KindPersistenceAfterCapture,
			},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				s.mockCommands.EXPECT().Checkout(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tc.err).Times(1)
				rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token")
				body := httptest.AssertErrorKind(s.T(), rec, tc.expectCode, tc.expectKind)

				switch tc.expectKind {
				case api.KindPersistenceAfterCapture:
					s.Equal(caseID.String(), body.Detail["reconciliationCaseId"])
				case api.KindInsufficientStock:
					shortages, ok := body.Detail["shortages"].([]any)
					s.Require().True(ok)
					s.Len(shortages, 1)
				}
			})
		}
	})
}

// ================================================================================
// TestPrepare
// ================================================================================

func (s *CheckoutHandlerTestSuite) TestPrepare() {
	url := "/checkout/intents"
	b := builder.NewCheckoutBuilder().With(func(b *builder.CheckoutBuilder) {
		b.PaymentMethod = payment.ProviderPayPal
	})
	reqBody := b.BuildPrepareRequestDTO()

	s.Run("success: returns 201 with approval details", func() {
		result := b.BuildPrepareResult(nil)
		s.mockCommands.EXPECT().Prepare(gomock.Any(), s.identity, gomock.Any()).Return(result, nil).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token")

		var body resdto.PrepareCheckoutResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusCreated, &body)
		s.Equal(result.AttemptKey, body.AttemptKey)
		s.Equal("PAYPAL", body.Provider)
		s.Equal(result.NextAction, body.NextAction)
		s.Equal(result.IntentID.String(), body.IntentID)
		s.Nil(body.OrderID)
	})

	s.Run("success: completed attempt returns 200 with the order id", func() {
		orderID := uuid.New()
		result := b.BuildPrepareResult(&orderID)
		s.mockCommands.EXPECT().Prepare(gomock.Any(), gomock.Any(), gomock.Any()).Return(result, nil).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token")

		var body resdto.PrepareCheckoutResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Require().NotNil(body.OrderID)
		s.Equal(orderID.String(), *body.OrderID)
	})

	s.Run("error: gateway failure is 502", func() {
		err := &payment.GatewayError{Provider: payment.ProviderPayPal, Op: "create", Err: errors.New("503")}
		s.mockCommands.EXPECT().Prepare(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, err).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token")
		httptest.AssertErrorKind(s.T(), rec, http.StatusBadGateway, api.KindGatewayError)
	})
}
