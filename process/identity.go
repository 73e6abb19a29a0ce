package process

import "errors"

var ErrEmptyIdentity = errors.New("empty user or company id")

// Identity is the authenticated caller of a request.
// It is passed explicitly to every operation that needs it.
type Identity struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
}

// Validate checks that both the user and company are known.
func (i Identity) Validate() error {
	if i.UserID == "" || i.CompanyID == "" {
		return ErrEmptyIdentity
	}
	return nil
}
