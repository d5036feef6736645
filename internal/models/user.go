package models

// Profile is the account returned by GET /api/profile/.
type Profile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

// ProviderProfile is the record returned by GET /api/provider/profile/.
// Its ID is the provider id, distinct from the account's user id.
type ProviderProfile struct {
	ID          int64             `json:"id"`
	User        int64             `json:"user"`
	CompanyName string            `json:"company_name,omitempty"`
	Bio         string            `json:"bio,omitempty"`
	Rating      float64           `json:"rating,omitempty"`
	Categories  []ServiceCategory `json:"service_categories,omitempty"`
}

// ServiceCategory is one of the marketplace's service categories.
type ServiceCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProviderListing is one entry from GET /api/providers/?category=.
type ProviderListing struct {
	ID          int64   `json:"id"`
	CompanyName string  `json:"company_name,omitempty"`
	Username    string  `json:"username,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	Bio         string  `json:"bio,omitempty"`
}
