package validation

// Product identifies what is being bought.
type Product struct {
	ID    string  `json:"id" validate:"required,max=256"`
	Price float64 `json:"price" validate:"gt=0,lt=10000000000,money"`
}

type Customer struct {
	Name  string `json:"name" validate:"required,max=256"`
	Email string `json:"email" validate:"required,email,max=256"`
}

// CreateOrderRequest is the payload for POST /order
type CreateOrderRequest struct {
	Product   Product  `json:"product"`
	Customer  Customer `json:"customer"`
	CardToken string   `json:"cardToken" validate:"required,max=1024"`
}

// CardTokenRequest is the payload for POST /payment/card-token
type CardTokenRequest struct {
	Number         string `json:"number" validate:"required,cardnumber"`
	HolderName     string `json:"holderName" validate:"required,max=256"`
	CVV            string `json:"cvv" validate:"required,cvv"`
	ExpirationDate string `json:"expirationDate" validate:"required,mmyy"`
}
