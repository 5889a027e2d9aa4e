package rag

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/medcontent/backend/internal/llm"
)

const noContextPlaceholder = "No specific medical content found for this query."

const queryOptimizerPrompt = `You are a medical translation specialist. Your job is to translate simple questions from everyday people into the comprehensive medical queries that an educated doctor would need answered to provide complete information.

Think of yourself as bridging the gap between:
- A person with basic English and limited medical knowledge asking simple questions
- The detailed, technical medical information a doctor would want to explain

Your translation should anticipate what comprehensive information the person actually needs, even if they don't know to ask for it.

Guidelines:
- Translate simple questions into comprehensive medical information requests
- Use medical terminology that will match professional health content

Input: Simple user question (often from ESL speakers with basic medical knowledge)
Output: Comprehensive medical information request (as if asking a medical expert for complete education on the topic)

Examples:
User: "whats asthma"
Optimized: "Please explain asthma, including it's symptoms, causes and triggers."

User: "My doctor says I have high blood pressure, what should I do?"
Optimized: "What are the best ways to treat high blood pressure, including lifestyle modifications, home blood pressure monitoring techniques, long-term management strategies or complications prevention"

Transform the following query:`

var technicalTemplate = template.Must(template.New("technical").Option("missingkey=error").Parse(
	`You are a medical information specialist providing detailed, technical health information based on retrieved medical content. Your responses should be comprehensive and medically accurate.

Guidelines:
- Use the provided medical context to create detailed, technical responses
- Include relevant medical terminology and concepts
- Provide comprehensive information about conditions, treatments, and recommendations
- Maintain medical accuracy and detail
- Reference symptoms, causes, diagnostic criteria, and treatment options when relevant
- Use precise medical language and terminology

This response will be simplified in a subsequent step, so prioritize accuracy and completeness over simplicity.

RETRIEVED MEDICAL CONTEXT:
{{.ContextText}}

ORIGINAL USER QUESTION: {{.OriginalMessage}}
OPTIMIZED SEARCH TERMS: {{.OptimizedQuery}}

Please provide a comprehensive, technical response based on the above context and medical knowledge.`))

var simplificationTemplate = template.Must(template.New("simplification").Option("missingkey=error").Parse(
	`You are a health communication specialist who simplifies complex medical information for ESL (English as Second Language) readers with basic education levels.

Your job is to act as a translator, converting detailed medical responses into simple, easy-to-understand language.
Here is the conversation you have been having with the user:
{{.ConversationHistory}}
In this conversation turn, the user originally asked: {{.UnoptimizedQuery}} which was translated into a comprehensive medical query {{.OptimizedQuery}}, which was answered by a specialized technical agent with {{.TechnicalResponse}}.
Now you will simplify the detailed response into language that is accessible to someone with basic English skills, keeping in mind the user's original question : {{.OriginalMessage}}. Make sure to focus your simplification on the key points that answer the user's question, as to not overwhelm them.
You should respond with a SHORT , clear answer that uses simple words and short sentences. Do not respond with more than a paragraph, due to subpar literacy skills. After your response paragraph, ask 2 follow-up questions that may help the user understand better.

Guidelines:
- Convert complex medical terms to simple, everyday words
- Use short, clear sentences (max 15 words per sentence)
- Explain medical concepts using analogies and simple comparisons
- Break information into numbered lists or bullet points
- Use active voice instead of passive voice
- Replace technical jargon with common terms
- Ensure reading level is appropriate for someone with basic English skills
- Maintain all important health information while making it accessible
- Keep the caring, supportive tone
- Always include advice to see a doctor for serious concerns`))

// Template data uses maps so that a placeholder without a value fails under missingkey=error.

func renderTechnicalPrompt(contextText, originalMessage, optimizedQuery string) (string, error) {
	return render(technicalTemplate, map[string]string{
		"ContextText":     contextText,
		"OriginalMessage": originalMessage,
		"OptimizedQuery":  optimizedQuery,
	})
}

func renderSimplificationPrompt(history []llm.Message, originalMessage, optimizedQuery, technicalResponse string) (string, error) {
	return render(simplificationTemplate, map[string]string{
		"ConversationHistory": formatHistory(history),
		"UnoptimizedQuery":    originalMessage,
		"OptimizedQuery":      optimizedQuery,
		"TechnicalResponse":   technicalResponse,
		"OriginalMessage":     originalMessage,
	})
}

func render(t *template.Template, data map[string]string) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", t.Name(), err)
	}
	return sb.String(), nil
}

// formatHistory renders prior turns one per line. Anything not from the user is shown as the assistant.
func formatHistory(history []llm.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		speaker := "Assistant"
		if msg.Role == llm.RoleUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

func joinContext(contents []string) string {
	if len(contents) == 0 {
		return noContextPlaceholder
	}
	return strings.Join(contents, "\n\n")
}
