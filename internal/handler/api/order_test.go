//go:build unit

package api_test

import (
	"net/http"
	"testing"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/order"
	"storefront/internal/handler/api"
	resdto "storefront/internal/handler/dto/response"
	"storefront/internal/handler/middleware"
	"storefront/internal/usecase/commands"
	"storefront/internal/usecase/queries"
	"storefront/tests/common/builder"
	"storefront/tests/common/httptest"
	commandsmock "storefront/tests/mock/commands"
	queriesmock "storefront/tests/mock/queries"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type OrderHandlerTestSuite struct {
	suite.Suite
	router       *gin.Engine
	mockCtrl     *gomock.Controller
	mockCommands *commandsmock.MockOrderStatusCommands
	mockQueries  *queriesmock.MockOrderQueries
	handler      *api.OrderHandler
	customer     auth.Identity
	operator     auth.Identity
}

func (s *OrderHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	s.router.Use(middleware.ErrorHandler())

	s.mockCtrl = gomock.NewController(s.T())
	s.mockCommands = commandsmock.NewMockOrderStatusCommands(s.mockCtrl)
	s.mockQueries = queriesmock.NewMockOrderQueries(s.mockCtrl)
	s.handler = api.NewOrderHandler(s.mockCommands, s.mockQueries)

	customerID, operatorID := uuid.New(), uuid.New()
	s.customer = auth.Identity{UserID: &customerID, Role: auth.RoleCustomer, Verified: true}
	s.operator = auth.Identity{UserID: &operatorID, Role: auth.RoleOperator, Verified: true}

	s.router.GET("/orders", fakeAuth(&s.customer), s.handler.ListMine)
	s.router.GET("/orders/:id", fakeAuth(&s.customer), s.handler.Get)
	s.router.GET("/admin/orders", fakeAuth(&s.operator), s.handler.ListAll)
	s.router.POST("/admin/orders/:id/status", fakeAuth(&s.operator), s.handler.TransitionStatus)
}

func (s *OrderHandlerTestSuite) TearDownTest() {
	s.mockCtrl.Finish()
}

func TestOrderHandlerSuite(t *testing.T) {
	suite.Run(t, new(OrderHandlerTestSuite))
}

func (s *OrderHandlerTestSuite) TestGet() {
	view := builder.NewOrderBuilder().With(func(b *builder.OrderBuilder) { b.Items = 2 }).BuildView()

	s.Run("success: returns the order with items and history", func() {
		s.mockQueries.EXPECT().GetByID(gomock.Any(), s.customer, view.ID).Return(view, nil).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/orders/"+view.ID.String(), nil, "bearer-token")

		var body resdto.OrderResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Equal(view.ID, body.ID)
		s.Equal("45.99", body.Total.StringFixed(2))
		s.Len(body.Items, 2)
		s.Equal("Widget", body.Items[0].ProductName)
		s.Len(body.History, 1)
		s.Equal("GB", body.ShippingAddress.Country)
		s.NotContains(rec.Body.String(), view.ProviderRef)
	})

	s.Run("error: 404 when the order is not visible", func() {
		s.mockQueries.EXPECT().GetByID(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, queries.ErrOrderNotFound).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/orders/"+uuid.NewString(), nil, "bearer-token")
		httptest.AssertErrorKind(s.T(), rec, http.StatusNotFound, api.KindNotFound)
	})

	s.Run("error: 400 on malformed id", func() {
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/orders/not-a-uuid", nil, "bearer-token")
		httptest.AssertErrorKind(s.T(), rec, http.StatusBadRequest, api.KindInvalidRequest)
	})
}

func (s *OrderHandlerTestSuite) TestListMine() {
	items := []*queries.OrderListItem{
		builder.NewOrderBuilder().BuildListItem(),
		builder.NewOrderBuilder().BuildListItem(),
	}

	s.Run("success: passes cursor and clamps limit", func() {
		next := &queries.Cursor{After: "next-page"}
		s.mockQueries.EXPECT().ListMine(gomock.Any(), s.customer, &queries.Cursor{After: "abc"}, queries.MaxListLimit).
			Return(items, next, nil).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/orders?after=abc&limit=500", nil, "bearer-token")

		var body resdto.OrderListResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Len(body.Items, 2)
		s.Require().NotNil(body.NextCursor)
		s.Equal("next-page", *body.NextCursor)
	})

	s.Run("error: invalid cursor is 400", func() {
		s.mockQueries.EXPECT().ListMine(gomock.Any(), gomock.Any(), gomock.Any(), 20).
			Return(nil, nil, queries.ErrInvalidCursor).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/orders?after=garbage", nil, "bearer-token")
		httptest.AssertErrorKind(s.T(), rec, http.StatusBadRequest, api.KindInvalidRequest)
	})
}

func (s *OrderHandlerTestSuite) TestListAll() {
	s.Run("success: status filter is parsed", func() {
		shipped := order.StatusShipped
		s.mockQueries.EXPECT().ListAll(gomock.Any(), queries.OrderFilters{Status: &shipped}, gomock.Nil(), 20).
			Return([]*queries.OrderListItem{}, nil, nil).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/admin/orders?status=shipped", nil, "bearer-token")

		var body resdto.OrderListResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Empty(body.Items)
		s.Nil(body.NextCursor)
	})

	s.Run("error: unknown status filter is 400", func() {
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/admin/orders?status=LOST", nil, "bearer-token")
		httptest.AssertErrorKind(s.T(), rec, http.StatusBadRequest, api.KindInvalidRequest)
	})
}

func (s *OrderHandlerTestSuite) TestTransitionStatus() {
	orderID := uuid.New()
	url := "/admin/orders/" + orderID.String() + "/status"

	s.Run("success: ships with tracking details", func() {
		expected := commands.TransitionInput{OrderID: orderID, To: order.StatusShipped}
		s.mockCommands.EXPECT().Transition(gomock.Any(), s.operator, gomock.Any()).
			DoAndReturn(func(_ any, _ auth.Identity, in commands.TransitionInput) (*commands.TransitionResult, error) {
				s.Equal(expected.OrderID, in.OrderID)
				s.Equal(expected.To, in.To)
				s.Require().NotNil(in.Details.TrackingNumber)
				s.Equal("1Z999", *in.Details.TrackingNumber)
				return &commands.TransitionResult{OrderID: orderID, From: order.StatusProcessing, To: order.StatusShipped}, nil
			}).Times(1)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, map[string]any{
			"status":         "SHIPPED",
			"trackingNumber": " 1Z999 ",
			"courierService": "UPS",
		}, "bearer-token")

		var body resdto.TransitionOrderStatusResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Equal("PROCESSING", body.From)
		s.Equal("SHIPPED", body.To)
	})

	s.Run("error: transition rules and permissions", func() {
		cases := []struct {
			name       string
			err        error
			expectCode int
			expectKind string
		}{
			{
				name:       "invalid transition",
				err:        &order.InvalidTransitionError{From: order.StatusShipped, To: order.StatusCancelled},
				expectCode: http.StatusUnprocessableEntity,
				expectKind: api.KindInvalidTransition,
			},
			{name: "missing tracking", err: order.ErrMissingTracking, expectCode: http.StatusBadRequest, expectKind: api.KindInvalidRequest},
			{name: "concurrent change", err: commands.ErrConcurrentTransition, expectCode: http.StatusConflict, expectKind: api.KindConcurrentUpdate},
			{name: "staff only", err: commands.ErrStaffOnly, expectCode: http.StatusForbidden, expectKind: api.KindForbidden},
			{name: "not found", err: order.ErrNotFound, expectCode: http.StatusNotFound, expectKind: api.KindNotFound},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				s.mockCommands.EXPECT().Transition(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tc.err).Times(1)
				rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, map[string]any{"status": "CANCELLED"}, "bearer-token")
				httptest.AssertErrorKind(s.T(), rec, tc.expectCode, tc.expectKind)
			})
		}
	})

	s.Run("error: unknown status is rejected before the use case", func() {
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, map[string]any{"status": "RETURNED"}, "bearer-token")
		httptest.AssertErrorKind(s.T(), rec, http.StatusBadRequest, api.KindInvalidRequest)
	})
}
