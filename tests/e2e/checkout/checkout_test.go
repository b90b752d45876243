//go:build e2e

package checkout_test

import (
	"net/http"
	nethttptest "net/http/httptest"
	"sync"
	"testing"

	"storefront/internal/domain/auth"
	"storefront/internal/domain/payment"
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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	checkoutURL = "/api/checkout"
	intentsURL  = "/api/checkout/intents"
	webhookURL  = "/api/webhooks/payments/"
)

type CheckoutSuite struct {
	e2e.SharedSuite
}

func (s *CheckoutSuite) SetupSubTest() {
	s.SharedSuite.SetupSubTest()
}

func TestCheckoutSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) checkoutBody(productID uuid.UUID, qty int, token string, mutate ...func(*builder.CheckoutBuilder)) request.CheckoutRequest {
	b := builder.NewCheckoutBuilder().With(func(b *builder.CheckoutBuilder) {
		b.Lines = []builder.CheckoutLine{{ProductID: productID, Quantity: qty}}
		b.PaymentToken = token
	})
	for _, m := range mutate {
		b.With(m)
	}
	return b.BuildRequestDTO()
}

func (s *CheckoutSuite) post(identity auth.Identity, body any) *nethttptest.ResponseRecorder {
	return httptest.PerformRequest(s.T(), s.Router, http.MethodPost, checkoutURL, body, s.JWT.GenerateToken(s.T(), identity))
}

func (s *CheckoutSuite) TestCheckout() {
	s.Run("scenario A: order is created and stock decrements only after capture", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Widget", "20.00", 5)
		customer := authtest.Customer()

		w := s.post(customer, s.checkoutBody(productID, 2, infrapayment.SandboxTokenOK))

		var res response.CheckoutResponse
		httptest.AssertSuccessResponse(t, w, http.StatusCreated, &res)
		require.Equal(t, "/api/orders/"+res.OrderID, w.Header().Get("Location"))
		require.True(t, decimal.NewFromInt(40).Equal(res.Quote.Subtotal))
		require.True(t, res.Quote.Discount.IsZero())
		require.True(t, res.Quote.DeliveryFee.IsPositive())
		require.True(t, res.Quote.Total.Equal(decimal.NewFromInt(40).Add(res.Quote.DeliveryFee)))
		require.Equal(t, 3, dbtest.ProductStock(t, s.DB, productID))
		require.Equal(t, 1, dbtest.CountRows(t, s.DB, "order_status_history", "order_id = $1 AND status = 'PENDING'", uuid.MustParse(res.OrderID)))
		require.Equal(t, 1, dbtest.CountRows(t, s.DB, "notification_outbox", "order_id = $1", uuid.MustParse(res.OrderID)))
	})

	s.Run("replaying the same checkout returns the same order without charging again", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Widget", "20.00", 5)
		customer := authtest.Customer()
		body := s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK)

		first := s.post(customer, body)
		var firstRes response.CheckoutResponse
		httptest.AssertSuccessResponse(t, first, http.StatusCreated, &firstRes)

		second := s.post(customer, body)
		var secondRes response.CheckoutResponse
		httptest.AssertSuccessResponse(t, second, http.StatusOK, &secondRes)

		require.Equal(t, firstRes.OrderID, secondRes.OrderID)
		require.True(t, secondRes.Replayed)
		require.Equal(t, 4, dbtest.ProductStock(t, s.DB, productID))
		require.Equal(t, 1, dbtest.CountRows(t, s.DB, "payment_intents", "status = 'CAPTURED'"))
	})

	s.Run("scenario B: discount applies and consumes one use", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Jacket", "100.00", 5)
		maxUses := 1
		codeID := dbtest.CreateTestDiscountCode(t, s.DB, "SAVE10", 10, &maxUses)

		w := s.post(authtest.Customer(), s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK, func(b *builder.CheckoutBuilder) {
			code := "save10"
			b.DiscountCode = &code
		}))

		var res response.CheckoutResponse
		httptest.AssertSuccessResponse(t, w, http.StatusCreated, &res)
		require.True(t, decimal.NewFromInt(10).Equal(res.Quote.Discount))
		require.True(t, decimal.NewFromInt(90).Add(res.Quote.DeliveryFee).Equal(res.Quote.Total))
		require.Equal(t, 1, dbtest.DiscountUses(t, s.DB, codeID))

		again := s.post(authtest.Customer(), s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK, func(b *builder.CheckoutBuilder) {
			code := "SAVE10"
			b.DiscountCode = &code
		}))
		body := httptest.AssertErrorKind(t, again, http.StatusUnprocessableEntity, api.KindInvalidDiscount)
		require.Equal(t, "usage limit reached", body.Detail["reason"])
		require.Equal(t, 4, dbtest.ProductStock(t, s.DB, productID))
	})

	s.Run("scenario B: concurrent use of a single-use code succeeds exactly once", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Jacket", "100.00", 10)
		maxUses := 1
		codeID := dbtest.CreateTestDiscountCode(t, s.DB, "ONCE", 10, &maxUses)
		code := "ONCE"

		codes := s.concurrently(2, func(int) *nethttptest.ResponseRecorder {
			return s.post(authtest.Customer(), s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK, func(b *builder.CheckoutBuilder) {
				b.DiscountCode = &code
			}))
		})

		require.ElementsMatch(t, []int{http.StatusCreated, http.StatusUnprocessableEntity}, codes)
		require.Equal(t, 1, dbtest.DiscountUses(t, s.DB, codeID))
		require.Equal(t, 9, dbtest.ProductStock(t, s.DB, productID))
	})

	s.Run("scenario C: last unit goes to exactly one of two concurrent checkouts", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Rare print", "30.00", 1)

		codes := s.concurrently(2, func(int) *nethttptest.ResponseRecorder {
			return s.post(authtest.Customer(), s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK))
		})

		require.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, codes)
		require.Equal(t, 0, dbtest.ProductStock(t, s.DB, productID))
		require.Equal(t, 1, dbtest.CountRows(t, s.DB, "payment_intents", "true"), "the loser must not reach the provider")
	})

	s.Run("no oversell under contention", func() {
		t := s.T()
		const stock, buyers = 3, 8
		productID := dbtest.CreateTestProduct(t, s.DB, "Sneaker", "10.00", stock)

		codes := s.concurrently(buyers, func(int) *nethttptest.ResponseRecorder {
			return s.post(authtest.Customer(), s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK))
		})

		created := 0
		for _, c := range codes {
			if c == http.StatusCreated {
				created++
			} else {
				require.Equal(t, http.StatusConflict, c)
			}
		}
		require.Equal(t, stock, created)
		require.Equal(t, 0, dbtest.ProductStock(t, s.DB, productID))
	})

	s.Run("scenario D: decline releases stock and a corrected retry decrements once", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Lamp", "25.00", 4)
		customer := authtest.Customer()

		declined := s.post(customer, s.checkoutBody(productID, 2, infrapayment.SandboxTokenDecline))
		httptest.AssertErrorKind(t, declined, http.StatusPaymentRequired, api.KindPaymentDeclined)
		require.Equal(t, 4, dbtest.ProductStock(t, s.DB, productID))

		retry := s.post(customer, s.checkoutBody(productID, 2, infrapayment.SandboxTokenOK))
		var res response.CheckoutResponse
		httptest.AssertSuccessResponse(t, retry, http.StatusCreated, &res)
		require.Equal(t, 2, dbtest.ProductStock(t, s.DB, productID))
		require.Equal(t, 1, dbtest.CountRows(t, s.DB, "orders", "true"))
	})

	s.Run("insufficient stock reports shortages before any payment", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Mug", "8.00", 1)

		w := s.post(authtest.Customer(), s.checkoutBody(productID, 3, infrapayment.SandboxTokenOK))

		body := httptest.AssertErrorKind(t, w, http.StatusConflict, api.KindInsufficientStock)
		shortages, ok := body.Detail["shortages"].([]any)
		require.True(t, ok)
		require.Len(t, shortages, 1)
		require.Equal(t, 0, dbtest.CountRows(t, s.DB, "payment_intents", "true"))
		require.Equal(t, 1, dbtest.ProductStock(t, s.DB, productID))
	})

	s.Run("stale expected total is rejected and the hold released", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Headphones", "60.00", 2)
		stale := decimal.NewFromInt(1)

		w := s.post(authtest.Customer(), s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK, func(b *builder.CheckoutBuilder) {
			b.ExpectedTotal = &stale
		}))

		httptest.AssertErrorKind(t, w, http.StatusUnprocessableEntity, api.KindAmountMismatch)
		require.Equal(t, 2, dbtest.ProductStock(t, s.DB, productID))
		require.Equal(t, 0, dbtest.CountRows(t, s.DB, "payment_intents", "true"))
	})

	s.Run("unverified identities cannot check out", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Mug", "8.00", 1)
		unverified := authtest.Customer()
		unverified.Verified = false

		w := s.post(unverified, s.checkoutBody(productID, 1, infrapayment.SandboxTokenOK))
		httptest.AssertErrorKind(t, w, http.StatusForbidden, api.KindUnverified)
	})

	s.Run("expired token is rejected", func() {
		t := s.T()
		token := s.JWT.CreateExpiredToken(t, authtest.Customer())
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, checkoutURL, s.checkoutBody(uuid.New(), 1, "tok"), token)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func (s *CheckoutSuite) TestTwoPhaseCheckout() {
	s.Run("PayPal: prepare then confirm creates the order", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Headphones", "60.00", 2)
		guest := authtest.Guest()
		token := s.JWT.GenerateToken(t, guest)
		body := s.checkoutBody(productID, 1, "", func(b *builder.CheckoutBuilder) {
			b.PaymentMethod = payment.ProviderPayPal
		})

		prep := httptest.PerformRequest(t, s.Router, http.MethodPost, intentsURL, body.PrepareCheckoutRequest, token)
		var prepRes response.PrepareCheckoutResponse
		httptest.AssertSuccessResponse(t, prep, http.StatusCreated, &prepRes)
		require.NotEmpty(t, prepRes.ExternalRef)
		require.NotEmpty(t, prepRes.NextAction)
		require.Equal(t, 1, dbtest.ProductStock(t, s.DB, productID), "prepare holds the stock")

		total := prepRes.Quote.Total
		body.PaymentToken = prepRes.ExternalRef
		body.ExpectedTotal = &total
		done := httptest.PerformRequest(t, s.Router, http.MethodPost, checkoutURL, body, token)
		var res response.CheckoutResponse
		httptest.AssertSuccessResponse(t, done, http.StatusCreated, &res)
		require.Equal(t, prepRes.AttemptKey, res.AttemptKey)
		require.Equal(t, 1, dbtest.ProductStock(t, s.DB, productID))

		again := httptest.PerformRequest(t, s.Router, http.MethodPost, intentsURL, body.PrepareCheckoutRequest, token)
		var againRes response.PrepareCheckoutResponse
		httptest.AssertSuccessResponse(t, again, http.StatusOK, &againRes)
		require.NotNil(t, againRes.OrderID)
		require.Equal(t, res.OrderID, *againRes.OrderID)
	})

	s.Run("PayPal: confirming with a stale total is rejected", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Headphones", "60.00", 2)
		token := s.JWT.GenerateToken(t, authtest.Customer())
		body := s.checkoutBody(productID, 1, "", func(b *builder.CheckoutBuilder) {
			b.PaymentMethod = payment.ProviderPayPal
		})

		prep := httptest.PerformRequest(t, s.Router, http.MethodPost, intentsURL, body.PrepareCheckoutRequest, token)
		var prepRes response.PrepareCheckoutResponse
		httptest.AssertSuccessResponse(t, prep, http.StatusCreated, &prepRes)

		stale := decimal.NewFromInt(1)
		body.PaymentToken = prepRes.ExternalRef
		body.ExpectedTotal = &stale
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, checkoutURL, body, token)
		httptest.AssertErrorKind(t, w, http.StatusUnprocessableEntity, api.KindAmountMismatch)
		require.Equal(t, 0, dbtest.CountRows(t, s.DB, "orders", "true"))
	})
}

func (s *CheckoutSuite) TestPaymentWebhook() {
	s.Run("wrong secret is rejected", func() {
		t := s.T()
		w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, webhookURL+"paypal",
			request.PaymentWebhookRequest{ExternalRef: "ORDER-1", Status: "COMPLETED"}, "",
			map[string]string{"X-Webhook-Secret": "nope"})
		httptest.AssertErrorKind(t, w, http.StatusUnauthorized, api.KindUnauthenticated)
	})

	s.Run("unknown intent is 404", func() {
		t := s.T()
		w := httptest.PerformRequestWithHeaders(t, s.Router, http.MethodPost, webhookURL+"card",
			request.PaymentWebhookRequest{ExternalRef: "pi_missing", Status: "succeeded"}, "",
			map[string]string{"X-Webhook-Secret": s.Config.Payment.WebhookSecret})
		httptest.AssertErrorKind(t, w, http.StatusNotFound, api.KindNotFound)
	})
}

func (s *CheckoutSuite) TestReservationSweeper() {
	s.Run("abandoned two-phase checkout returns its stock once expired", func() {
		t := s.T()
		productID := dbtest.CreateTestProduct(t, s.DB, "Kettle", "35.00", 2)
		token := s.JWT.GenerateToken(t, authtest.Customer())
		body := s.checkoutBody(productID, 2, "", func(b *builder.CheckoutBuilder) {
			b.PaymentMethod = payment.ProviderPayPal
		})

		prep := httptest.PerformRequest(t, s.Router, http.MethodPost, intentsURL, body.PrepareCheckoutRequest, token)
		require.Equal(t, http.StatusCreated, prep.Code, prep.Body.String())
		require.Equal(t, 0, dbtest.ProductStock(t, s.DB, productID))

		_, err := s.DB.Exec(t.Context(), "UPDATE stock_reservations SET expires_at = now() - interval '1 minute'")
		require.NoError(t, err)

		stats, err := s.Sweeper.RunOnce(t.Context())
		require.NoError(t, err)
		require.Equal(t, 1, stats.Released)
		require.Equal(t, 2, dbtest.ProductStock(t, s.DB, productID))
	})
}

// concurrently fires n requests at once and returns their status codes.
func (s *CheckoutSuite) concurrently(n int, do func(i int) *nethttptest.ResponseRecorder) []int {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		codes = make([]int, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			codes[i] = do(i).Code
		}()
	}
	close(start)
	wg.Wait()
	return codes
}
