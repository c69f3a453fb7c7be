package models

// PaymentsRequest is the body accepted by the stripe-payments endpoint. Which
// fields are required depends on Action.
type PaymentsRequest struct {
	Action         string `json:"action"`
	PriceID        string `json:"priceId"`
	SuccessURL     string `json:"successUrl"`
	CancelURL      string `json:"cancelUrl"`
	SubscriptionID string `json:"subscriptionId"`
	CustomerID     string `json:"customerId"`
	ReturnURL      string `json:"returnUrl"`
	UserEmail      string `json:"userEmail"`
}

type CheckoutRequest struct {
	PriceID    string `json:"priceId" validate:"required"`
	SuccessURL string `json:"successUrl" validate:"required"`
	CancelURL  string `json:"cancelUrl" validate:"required"`
}

type SubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,startswith=sub_"`
}

type CustomerRequest struct {
	CustomerID string `json:"customerId" validate:"required,startswith=cus_"`
}

type PortalRequest struct {
	CustomerID string `json:"customerId" validate:"required,startswith=cus_"`
	ReturnURL  string `json:"returnUrl" validate:"required"`
}

// SyncRequest only needs an address; it has already been matched against the
// caller's verified email.
type SyncRequest struct {
	Email string `json:"userEmail" validate:"required"`
}
