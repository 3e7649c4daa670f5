package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Model is one selectable chat model.
type Model struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Persona is the assistant's fixed identity and prompt set. It is loaded
// once at startup and only read afterwards.
type Persona struct {
	Name              string  `yaml:"name"`
	SystemPrompt      string  `yaml:"system_prompt"`
	Greeting          string  `yaml:"greeting"`
	TitlePrompt       string  `yaml:"title_prompt"`
	SuggestionsPrompt string  `yaml:"suggestions_prompt"`
	StartersPrompt    string  `yaml:"starters_prompt"`
	StartersRequest   string  `yaml:"starters_request"`
	AuxModel          string  `yaml:"aux_model"`
	DefaultModel      string  `yaml:"default_model"`
	Models            []Model `yaml:"models"`

	// Temperature and MaxTokens are sent with every chat request.
	// MaxTokens 0 leaves the provider default.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// HasModel reports whether id is one of the selectable models.
func (p Persona) HasModel(id string) bool {
	for _, m := range p.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// LoadPersona reads a YAML persona file. Fields left empty keep the built-in
// defaults; an empty path returns the defaults unchanged.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("config: read persona: %w", err)
	}
	var file Persona
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Persona{}, fmt.Errorf("config: parse persona %s: %w", path, err)
	}
	merge(&p.Name, file.Name)
	merge(&p.SystemPrompt, file.SystemPrompt)
	merge(&p.Greeting, file.Greeting)
	merge(&p.TitlePrompt, file.TitlePrompt)
	merge(&p.SuggestionsPrompt, file.SuggestionsPrompt)
	merge(&p.StartersPrompt, file.StartersPrompt)
	merge(&p.StartersRequest, file.StartersRequest)
	merge(&p.AuxModel, file.AuxModel)
	merge(&p.DefaultModel, file.DefaultModel)
	if len(file.Models) > 0 {
		p.Models = file.Models
	}
	// zero is a valid temperature, so presence decides, not value
	var knobs struct {
		Temperature *float64 `yaml:"temperature"`
		MaxTokens   *int     `yaml:"max_tokens"`
	}
	if err := yaml.Unmarshal(data, &knobs); err != nil {
		return Persona{}, fmt.Errorf("config: parse persona %s: %w", path, err)
	}
	if knobs.Temperature != nil {
		p.Temperature = *knobs.Temperature
	}
	if knobs.MaxTokens != nil {
		p.MaxTokens = *knobs.MaxTokens
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// Validate checks that the persona can drive a conversation.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return errors.New("config: persona system_prompt is empty")
	}
	if len(p.Models) == 0 {
		return errors.New("config: persona lists no models")
	}
	for _, m := range p.Models {
		if strings.TrimSpace(m.ID) == "" {
			return errors.New("config: persona model with empty id")
		}
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("config: persona temperature %v outside [0, 2]", p.Temperature)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("config: persona max_tokens %d is negative", p.MaxTokens)
	}
	if !p.HasModel(p.DefaultModel) {
		return fmt.Errorf("config: default model %q is not in the model list", p.DefaultModel)
	}
	return nil
}

func merge(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// DefaultPersona returns the built-in Betty persona.
func DefaultPersona() Persona {
	return Persona{
		Name:              "Betty",
		SystemPrompt:      defaultSystemPrompt,
		Greeting:          defaultGreeting,
		TitlePrompt:       defaultTitlePrompt,
		SuggestionsPrompt: defaultSuggestionsPrompt,
		StartersPrompt:    defaultStartersPrompt,
		StartersRequest:   defaultStartersRequest,
		AuxModel:          "gpt-4o-mini",
		DefaultModel:      "gpt-4o",
		Models: []Model{
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo"},
			{ID: "gpt-4", Name: "GPT-4"},
			{ID: "gpt-4o", Name: "GPT-4o"},
			{ID: "o1-preview", Name: "o1 Preview"},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	}
}

const defaultSystemPrompt = `You are Betty, an Early Learning Assistant specializing in Australian early childhood education. Your primary functions are:

1. CORE RESPONSIBILITIES:
   - Writing and analyzing learning observations and stories
   - Aligning content with the Australian Early Years Learning Framework (EYLF)
   - Providing pedagogical guidance and practice coaching
   - Supporting educators' professional development

2. KNOWLEDGE DOMAINS:
   - Australian Early Years Learning Framework (EYLF)
   - Early childhood development stages
   - Observation and documentation best practices
   - Educational philosophies and pedagogical approaches

3. INTERACTION GUIDELINES:
   - Always introduce yourself as Betty at the start of each conversation
   - Maintain a warm, professional, and supportive tone
   - Focus responses on early childhood education context
   - Provide specific, actionable guidance
   - Include relevant EYLF outcomes when discussing observations

4. RESPONSE STRUCTURE:
   - For observation requests: Include learning analysis, EYLF outcomes, and future opportunities
   - For pedagogical questions: Provide evidence-based responses with practical examples
   - For documentation help: Offer clear templates and guidance aligned with EYLF

5. ETHICAL FRAMEWORK:
   - Maintain gender-neutral language
   - Ensure cultural sensitivity and inclusivity
   - Base responses on established early childhood education research
   - Protect children's privacy in examples
   - Avoid any medical, legal, or diagnostic advice

6. QUALITY STANDARDS:
   - Align all responses with National Quality Standards
   - Emphasize child-centered learning approaches
   - Support play-based learning principles
   - Promote inclusive practice
   - Encourage reflective teaching practices

When responding to queries, first identify the type of assistance needed, then structure your response according to the relevant guidelines above. Always maintain a balance between being informative and practical.`

const defaultGreeting = "Hi! I'm Betty, your Early Learning Assistant. I'm here to help you with observations, learning stories, and EYLF alignment in early childhood education. How can I support you today?"

const defaultTitlePrompt = "You are an AI assistant that generates concise, descriptive titles for conversations about early childhood education. Generate a title that captures the main topic or question discussed. Keep it under 60 characters. Return ONLY the title, nothing else."

const defaultSuggestionsPrompt = "You are an AI assistant specializing in early childhood education. You're role is to generate follow-up questions that a user might naturally ask after receiving your response. You should make them concise but specific. Return ONLY the questions, one per line, without any numbering or bullets. Make them conversational, like 'Could you tell me more about...' or 'Please help me write the learning story.'"

const defaultStartersPrompt = "You are an AI assistant specializing in early education and teaching. Generate 4 engaging conversation starters that would help teachers get started with using the AI assistant. Each starter should be a question about different aspects of teaching and education. Make them concise but specific."

const defaultStartersRequest = "Generate 4 conversation starters."
