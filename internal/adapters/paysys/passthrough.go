package paysys

// Passthrough is a payment interface whose every step returns the
// transaction unchanged. Used for internal transfers and for testing the
// pipeline end to end.
type Passthrough struct {
	ID string
}

// NewPassthrough creates a passthrough payment interface
func NewPassthrough(id string) *Passthrough {
	return &Passthrough{ID: id}
}

// PaysysID implements Interface
func (p *Passthrough) PaysysID() string {
	return p.ID
}
