package ai

type ModelDescriptor struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

var catalog = [...]ModelDescriptor{
	{ID: "mywen:4b", Object: "model", Created: 1758116481, OwnedBy: "fake-llm-org"},
	{ID: "mywen:8b", Object: "model", Created: 1758116501, OwnedBy: "fake-llm-org"},
}

// Catalog returns the fixed list of models the fake endpoint answers for.
func Catalog() []ModelDescriptor {
	out := make([]ModelDescriptor, len(catalog))
	copy(out, catalog[:])
	return out
}
