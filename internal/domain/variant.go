package domain

// Generation variant names.
const (
	VariantControl    = "control"
	VariantChallenger = "challenger"
)

// Variant is the generation configuration chosen for one request.
type Variant struct {
	Name  string
	Model string // empty keeps the default model
}
