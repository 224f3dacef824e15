package models

// ProductListing carries the catalogue fields needed to create a product on
// a marketplace during the cross-marketplace listing pass.
type ProductListing struct {
	Model       string   `json:"model"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Stocks      int      `json:"stocks"`
	Price       float64  `json:"price"`
	WeightKG    float64  `json:"weight_kg"`
	Images      []string `json:"images,omitempty"`
}
