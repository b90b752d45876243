//go:build unit

package api_test

import (
	"net/http"
	nethttptest "net/http/httptest"
	"testing"

	"storefront/internal/domain/payment"
	"storefront/internal/handler/api"
	resdto "storefront/internal/handler/dto/response"
	"storefront/internal/handler/middleware"
	"storefront/internal/usecase/commands"
	"storefront/tests/common/httptest"
	commandsmock "storefront/tests/mock/commands"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type WebhookHandlerTestSuite struct {
	suite.Suite
	router       *gin.Engine
	mockCtrl     *gomock.Controller
	mockCommands *commandsmock.MockPaymentEventCommands
}

func (s *WebhookHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	s.router.Use(middleware.ErrorHandler())

	s.mockCtrl = gomock.NewController(s.T())
	s.mockCommands = commandsmock.NewMockPaymentEventCommands(s.mockCtrl)
	h := api.NewWebhookHandler(s.mockCommands)
	s.router.POST("/webhooks/payments/:provider", h.HandlePayment)
}

func (s *WebhookHandlerTestSuite) TearDownTest() {
	s.mockCtrl.Finish()
}

func TestWebhookHandlerSuite(t *testing.T) {
	suite.Run(t, new(WebhookHandlerTestSuite))
}

func (s *WebhookHandlerTestSuite) post(provider string, body any, secret string) *nethttptest.ResponseRecorder {
	return httptest.PerformRequestWithHeaders(s.T(), s.router, http.MethodPost, "/webhooks/payments/"+provider, body, "",
		map[string]string{"X-Webhook-Secret": secret})
}

func (s *WebhookHandlerTestSuite) TestHandlePayment() {
	s.Run("success: capture event settles the intent", func() {
		intentID, orderID := uuid.New(), uuid.New()
		s.mockCommands.EXPECT().Handle(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, in commands.PaymentEventInput) (*commands.PaymentEventResult, error) {
				s.Equal(payment.ProviderPayPal, in.Provider)
				s.Equal("whsec", in.Secret)
				s.Equal("ORDER-123", in.Notification.ExternalRef)
				s.True(decimal.RequireFromString("45.99").Equal(in.Notification.Amount))
				return &commands.PaymentEventResult{IntentID: intentID, Status: payment.StatusCaptured, OrderID: &orderID}, nil
			}).Times(1)

		rec := s.post("paypal", map[string]any{
			"externalRef": "ORDER-123",
			"status":      "COMPLETED",
			"amount":      "45.99",
		}, "whsec")

		var body resdto.PaymentEventResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Equal(intentID.String(), body.IntentID)
		s.Equal("CAPTURED", body.Status)
		s.Require().NotNil(body.OrderID)
		s.Equal(orderID.String(), *body.OrderID)
		s.False(body.Released)
	})

	s.Run("error: mapped failures", func() {
		cases := []struct {
			name       string
			err        error
			expectCode int
			expectKind string
		}{
			{name: "bad secret", err: commands.ErrInvalidWebhookSecret, expectCode: http.StatusUnauthorized, expectKind: api.KindUnauthenticated},
			{name: "unknown intent", err: payment.ErrIntentNotFound, expectCode: http.StatusNotFound, expectKind: api.KindNotFound},
			{name: "provider mismatch", err: payment.ErrIntentConflict, expectCode: http.StatusConflict, expectKind: api.KindIntentConflict},
			{name: "provider down", err: payment.ErrGatewayFailure, expectCode: http.StatusBadGateway, expectKind: api.KindGatewayError},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				s.mockCommands.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil, tc.err).Times(1)
				rec := s.post("card", map[string]any{"externalRef": "pi_1"}, "whsec")
				httptest.AssertErrorKind(s.T(), rec, tc.expectCode, tc.expectKind)
			})
		}
	})

	s.Run("error: unsupported provider is 400", func() {
		rec := s.post("bitcoin", map[string]any{"externalRef": "x"}, "whsec")
		httptest.AssertErrorKind(s.T(), rec, http.StatusBadRequest, api.KindInvalidRequest)
	})

	s.Run("error: missing externalRef is 400", func() {
		rec := s.post("wallet", map[string]any{"status": "COMPLETED"}, "whsec")
		httptest.AssertErrorKind(s.T(), rec, http.StatusBadRequest, api.KindInvalidRequest)
	})
}
