package openai

// ModelList is the body of GET /api/models. It keeps the OpenAI list shape
// so OpenAI clients can read it.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Model is one model a persona offers.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Name    string `json:"name,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// ListModels wraps models in a list; a nil slice encodes as [].
func ListModels(models []Model) ModelList {
	if models == nil {
		models = []Model{}
	}
	for i := range models {
		models[i].Object = "model"
	}
	return ModelList{Object: "list", Data: models}
}
