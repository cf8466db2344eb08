package backend

// DefaultChatModel is the model used when a chat request names none.
const DefaultChatModel = "general7Bv2"

// Model describes one entry in the model catalog.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Kind    string `json:"kind"`
}

// Registry is the catalog of models exposed by the API. The set is
// fixed at startup.
type Registry struct {
	models []Model
	byID   map[string]Model
}

// NewRegistry builds the default model catalog.
func NewRegistry() *Registry {
	models := []Model{
		{ID: DefaultChatModel, Object: "model", OwnedBy: "vocalis", Kind: "chat"},
		{ID: "general13B", Object: "model", OwnedBy: "vocalis", Kind: "chat"},
		{ID: "whisper-large-v3", Object: "model", OwnedBy: "vocalis", Kind: "transcription"},
		{ID: "diarize-v2", Object: "model", OwnedBy: "vocalis", Kind: "diarization"},
	}

	byID := make(map[string]Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	return &Registry{models: models, byID: byID}
}

// List returns the catalog in stable order.
func (r *Registry) List() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// Has reports whether the catalog contains the given model id.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}
