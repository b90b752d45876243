//go:build e2e

package order_test

import (
	"net/http"
	"testing"
	"time"

	"storefront/internal/domain/auth"
	"storefront/internal/handler/api"
	"storefront/internal/handler/dto/request"
	"storefront/internal/handler/dto/response"
	infrapayment "storefront/internal/infra/payment"
	"storefront/tests/common/authtest"
	"storefront/tests/common/builder"
	"storefront/tests/common/dbtest"
	"storefront/tests/common/httptest"
	"storefront/tests/e2e"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type OrderSuite struct {
	e2e.SharedSuite
	customer      auth.Identity
	customerToken string
	operatorToken string
}

func (s *OrderSuite) SetupSubTest() {
	s.SharedSuite.SetupSubTest()
	s.customer = authtest.Customer()
	s.customerToken = s.JWT.GenerateToken(s.T(), s.customer)
	s.operatorToken = s.JWT.GenerateToken(s.T(), authtest.Operator())
}

func TestOrderSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(OrderSuite))
}

// placeOrder checks out qty units of a fresh product and returns the order and product ids.
func (s *OrderSuite) placeOrder(stock, qty int) (string, uuid.UUID) {
	t := s.T()
	productID := dbtest.CreateTestProduct(t, s.DB, "Widget", "20.00", stock)
	body := builder.NewCheckoutBuilder().With(func(b *builder.CheckoutBuilder) {
		b.Lines = []builder.CheckoutLine{{ProductID: productID, Quantity: qty}}
		b.PaymentToken = infrapayment.SandboxTokenOK
	}).BuildRequestDTO()

	w := httptest.PerformRequest(t, s.Router, http.MethodPost, "/api/checkout", body, s.customerToken)
	var res response.CheckoutResponse
	httptest.AssertSuccessResponse(t, w, http.StatusCreated, &res)
	return res.OrderID, productID
}

func (s *OrderSuite) transition(orderID string, req request.TransitionOrderStatusRequest, token string) *response.TransitionOrderStatusResponse {
	t := s.T()
	w := httptest.PerformRequest(t, s.Router, http.MethodPost, "/api/admin/orders/"+orderID+"/status", req, token)
	var res response.TransitionOrderStatusResponse
	httptest.AssertSuccessResponse(t, w, http.StatusOK, &res)
	return &res
}

func (s *OrderSuite) TestCustomerReads() {
	s.Run("owner lists and reads their order", func() {
		t := s.T()
		orderID, productID := s.placeOrder(5, 2)

		list := httptest.PerformRequest(t, s.Router, http.MethodGet, "/api/orders", nil, s.customerToken)
		var page response.OrderListResponse
		httptest.AssertSuccessResponse(t, list, http.StatusOK, &page)
		require.Len(t, page.Items, 1)
		require.Equal(t, orderID, page.Items[0].ID.String())
		require.Equal(t, "PENDING", page.Items[0].Status)

		get := httptest.PerformRequest(t, s.Router, http.MethodGet, "/api/orders/"+orderID, nil, s.customerToken)
		var detail response.OrderResponse
		httptest.AssertSuccessResponse(t, get, http.StatusOK, &detail)
		require.Equal(t, "45.99", detail.Total.StringFixed(2))
		require.Len(t, detail.Items, 1)
		require.Equal(t, productID, detail.Items[0].ProductID)
		require.Equal(t, 2, detail.Items[0].Quantity)
		require.Equal(t, "20.00", detail.Items[0].UnitPriceAtPurchase.StringFixed(2))
		require.Len(t, detail.History, 1)
	})

	s.Run("another customer's order is not found", func() {
		t := s.T()
		orderID, _ := s.placeOrder(5, 1)
		stranger := s.JWT.GenerateToken(t, authtest.Customer())

		w := httptest.PerformRequest(t, s.Router, http.MethodGet, "/api/orders/"+orderID, nil, stranger)
		httptest.AssertErrorKind(t, w, http.StatusNotFound, api.KindNotFound)
	})

	s.Run("price changes after purchase do not alter the order", func() {
		t := s.T()
		orderID, productID := s.placeOrder(5, 1)
		_, err := s.DB.Exec(t.Context(), "UPDATE products SET price = 99.00 WHERE id = $1", productID)
		require.NoError(t, err)

		w := httptest.PerformRequest(t, s.Router, http.MethodGet, "/api/orders/"+orderID, nil, s.customerToken)
		var detail response.OrderResponse
		httptest.AssertSuccessResponse(t, w, http.StatusOK, &detail)
		require.Equal(t, "20.00", detail.Items[0].UnitPriceAtPurchase.StringFixed(2))
	})

	s.Run("missing token is unauthorized", func() {
		w := httptest.PerformRequest(s.T(), s.Router, http.MethodGet, "/api/orders", nil, "")
		require.Equal(s.T(), http.StatusUnauthorized, w.Code)
	})
}

func (s *OrderSuite) TestAdminLifecycle() {
	s.Run("operator walks an order to delivered", func() {
		t := s.T()
		orderID, _ := s.placeOrder(5, 1)

		res := s.transition(orderID, request.TransitionOrderStatusRequest{Status: "PROCESSING"}, s.operatorToken)
		require.Equal(t, "PENDING", res.From)

		tracking, courier := "1Z999", "UPS"
		res = s.transition(orderID, request.TransitionOrderStatusRequest{
			Status:         "SHIPPED",
			TrackingNumber: &tracking,
			CourierService: &courier,
		}, s.operatorToken)
		require.Equal(t, "SHIPPED", res.To)

		res = s.transition(orderID, request.TransitionOrderStatusRequest{Status: "DELIVERED"}, s.operatorToken)
		require.Equal(t, "DELIVERED", res.To)

		w := httptest.PerformRequest(t, s.Router, http.MethodGet, "/api/admin/orders/"+orderID, nil, s.operatorToken)
		var detail response.OrderResponse
		httptest.AssertSuccessResponse(t, w, http.StatusOK, &detail)
		require.Equal(t, "DELIVERED", detail.Status)
		require.NotNil(t, detail.TrackingNumber)
		require.Equal(t, tracking, *detail.TrackingNumber)
		require.NotNil(t, detail.ActualDelivery)
		require.Len(t, detail.History, 4)

		list := httptest.PerformRequest(t, s.Router, http.MethodGet, "/api/admin/orders?status=DELIVERED", nil, s.operatorToken)
		var page response.OrderListResponse
		httptest.AssertSuccessResponse(t, list, http.StatusOK, &page)
		require.Len(t, page.Items, 1)
	})

	s.Run("shipping without tracking is rejected", func() {
		t := s.T()
		orderID, _ := s.placeOrder(5, 1)
		s.transition(orderID, request.TransitionOrderStatusRequest{Status: "PROCESSING"}, s.operatorToken)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, "/api/admin/orders/"+orderID+"/status",
			request.TransitionOrderStatusRequest{Status: "SHIPPED"}, s.operatorToken)
		httptest.AssertErrorKind(t, w, http.StatusBadRequest, api.KindInvalidRequest)
	})

	s.Run("cancel after shipping is an invalid transition", func() {
		t := s.T()
		orderID, productID := s.placeOrder(5, 1)
		tracking := "1Z999"
		s.transition(orderID, request.TransitionOrderStatusRequest{Status: "PROCESSING"}, s.operatorToken)
		s.transition(orderID, request.TransitionOrderStatusRequest{Status: "SHIPPED", TrackingNumber: &tracking}, s.operatorToken)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, "/api/admin/orders/"+orderID+"/status",
			request.TransitionOrderStatusRequest{Status: "CANCELLED"}, s.operatorToken)
		httptest.AssertErrorKind(t, w, http.StatusUnprocessableEntity, api.KindInvalidTransition)
		require.Equal(t, 4, dbtest.ProductStock(t, s.DB, productID))
	})

	s.Run("cancelling a pending order returns its stock once", func() {
		t := s.T()
		orderID, productID := s.placeOrder(5, 2)
		require.Equal(t, 3, dbtest.ProductStock(t, s.DB, productID))

		res := s.transition(orderID, request.TransitionOrderStatusRequest{Status: "CANCELLED"}, s.operatorToken)
		require.True(t, res.StockReturned)
		require.Equal(t, 5, dbtest.ProductStock(t, s.DB, productID))

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, "/api/admin/orders/"+orderID+"/status",
			request.TransitionOrderStatusRequest{Status: "CANCELLED"}, s.operatorToken)
		httptest.AssertErrorKind(t, w, http.StatusUnprocessableEntity, api.KindInvalidTransition)
		require.Equal(t, 5, dbtest.ProductStock(t, s.DB, productID))
	})

	s.Run("transitions enqueue status notifications", func() {
		t := s.T()
		orderID, _ := s.placeOrder(5, 1)
		s.transition(orderID, request.TransitionOrderStatusRequest{Status: "PROCESSING"}, s.operatorToken)

		require.Equal(t, 2, dbtest.CountRows(t, s.DB, "notification_outbox", "order_id = $1", uuid.MustParse(orderID)))

		// The running relay is woken on commit; a manual pass only speeds it up.
		_, err := s.Relay.RunOnce(t.Context())
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return dbtest.CountRows(t, s.DB, "notification_outbox", "status = 'SENT'") == 2
		}, 5*time.Second, 50*time.Millisecond)
	})

	s.Run("customers cannot reach admin routes", func() {
		t := s.T()
		orderID, _ := s.placeOrder(5, 1)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, "/api/admin/orders/"+orderID+"/status",
			request.TransitionOrderStatusRequest{Status: "PROCESSING"}, s.customerToken)
		require.Equal(t, http.StatusForbidden, w.Code)

		w = httptest.PerformRequest(t, s.Router, http.MethodGet, "/api/admin/orders", nil, s.customerToken)
		require.Equal(t, http.StatusForbidden, w.Code)
	})
}
