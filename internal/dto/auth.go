package dto

// DefaultCurrency is sent on registration when none is given.
const DefaultCurrency = "MAD"

type LoginRequest struct {
	FirebaseUID string `json:"firebaseUid"`
}

type RegisterRequest struct {
	FirebaseUID string `json:"firebaseUid"`
	Name        string `json:"nom"`
	Email       string `json:"email"`
	Currency    string `json:"devise"`
}

type UserDTO struct {
	ID               string `json:"id"`
	FirebaseUID      string `json:"firebaseUid,omitempty"`
	Name             string `json:"nom,omitempty"`
	Email            string `json:"email,omitempty"`
	Currency         string `json:"devise,omitempty"`
	RegistrationDate string `json:"dateInscription,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
}

type AuthResponse struct {
	Success bool     `json:"success"`
	Token   string   `json:"token,omitempty"`
	User    *UserDTO `json:"user,omitempty"`
	Message string   `json:"message,omitempty"`
}

// NewRegisterRequest fills the default currency.
func NewRegisterRequest(firebaseUID, name, email, currency string) RegisterRequest {
	if currency == "" {
		currency = DefaultCurrency
	}
	return RegisterRequest{FirebaseUID: firebaseUID, Name: name, Email: email, Currency: currency}
}
