package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/compozy/notebook/engine/knowledge"
)

const systemPromptTemplate = `You are an AI assistant who helps resolve user queries based on the context available to you from a PDF or CSV file, including the page or row number.

Rule:
- Only answer based on the available context from the file only.
- When the context does not contain the answer, say that the file does not mention it.
- Cite the file name and page or row for every fact you use.

Context:
%s`

// contextDocument mirrors the document shape vector stores return so the
// model sees content and location side by side.
type contextDocument struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata"`
}

// BuildSystemPrompt embeds the chunks, serialized as JSON, into the system
// instruction.
func BuildSystemPrompt(chunks []knowledge.TextChunk) (string, error) {
	docs := make([]contextDocument, 0, len(chunks))
	for i := range chunks {
		docs = append(docs, contextDocument{
			PageContent: chunks[i].Content,
			Metadata:    chunks[i].Metadata.ToMap(),
		})
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("generation: encode context: %w", err)
	}
	return strings.TrimSpace(fmt.Sprintf(systemPromptTemplate, payload)), nil
}
