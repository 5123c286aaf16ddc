package functions

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

const ServiceInformationName = "GetServiceInformation"

// ServiceInformationDeclaration returns the function declaration for Gemini
func ServiceInformationDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ServiceInformationName,
		Description: "Get reference information about the service the assistant represents: hours, policies, contact details and frequently asked questions.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"topic": {
					Type:        genai.TypeString,
					Description: "Optional keyword to narrow the answer, for example 'hours' or 'refunds'.",
				},
			},
		},
	}
}

// ServiceInformation answers with the paragraphs of knowledge that mention the
// requested topic, or the whole text when no topic matches.
func ServiceInformation(knowledge string) Handler {
	paragraphs := splitParagraphs(knowledge)

	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		topic, _ := args["topic"].(string)
		topic = strings.ToLower(strings.TrimSpace(topic))

		if topic != "" {
			var matched []string
			for _, p := range paragraphs {
				if strings.Contains(strings.ToLower(p), topic) {
					matched = append(matched, p)
				}
			}
			if len(matched) > 0 {
				return map[string]any{"output": strings.Join(matched, "\n\n")}, nil
			}
		}
		return map[string]any{"output": strings.TrimSpace(knowledge)}, nil
	}
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewDefaultRegistry registers the built-in tools enabled by configuration.
func NewDefaultRegistry(knowledge string) (*Registry, error) {
	r := NewRegistry()
	if strings.TrimSpace(knowledge) == "" {
		return r, nil
	}
	if err := r.Register(ServiceInformationDeclaration(), ServiceInformation(knowledge)); err != nil {
		return nil, err
	}
	return r, nil
}
