package core

// LoreEntry is a keyword-triggered background-knowledge snippet.
type LoreEntry struct {
	Name       string   `json:"name" yaml:"name"`
	Context    string   `json:"context" yaml:"context"`
	Keywords   []string `json:"keywords" yaml:"keywords"`
	Categories []string `json:"categories" yaml:"categories"`
}
