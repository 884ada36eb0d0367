package domain

// Episode is a catalog entry. Catalog order defines streak order.
type Episode struct {
	ID        string `mapstructure:"id" json:"id"`
	Title     string `mapstructure:"title" json:"title"`
	Series    string `mapstructure:"series" json:"series"`
	Crossover bool   `mapstructure:"crossover" json:"crossover"`
}

// DisplayTitle returns the title, falling back to the ID.
func (e Episode) DisplayTitle() string {
	if e.Title == "" {
		return e.ID
	}
	if e.Series == "" {
		return e.Title
	}
	return e.Series + ": " + e.Title
}
