// Package prompt renders the final text sent to the generation service.
package prompt

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
)

type template func(question string) string

// templates is the closed set of instruction blocks, one per style.
var templates = map[models.PromptStyle]template{
	models.StyleBasic: func(q string) string {
		return "Answer the following question accurately based on the reference documents.\n\n" +
			"Question: " + q
	},
	models.StyleStructured: func(q string) string {
		return "Answer the following question in this structure:\n" +
			"1. Summary: the key point in one or two sentences\n" +
			"2. Details: a thorough explanation\n" +
			"3. Conclusion: the final answer\n\n" +
			"Question: " + q
	},
	models.StyleSimple: func(q string) string {
		return "Answer the following question briefly and directly, in plain language.\n\n" +
			"Question: " + q
	},
	models.StyleDetailed: func(q string) string {
		return "Answer the following question in depth. Include background, supporting evidence " +
			"from the documents and any caveats.\n\n" +
			"Question: " + q
	},
	models.StylePoint: func(q string) string {
		return "Answer the following question as bullet points, most important first.\n" +
			"Start every point with '-'.\n\n" +
			"Question: " + q
	},
	models.StyleFactCheck: func(q string) string {
		return "Answer the following question by separating:\n" +
			"Confirmed facts: statements clearly supported by the documents\n" +
			"Uncertain information: statements the documents only partly support\n" +
			"Needs verification: claims that require checking elsewhere\n\n" +
			"Question: " + q
	},
	models.StyleStepByStep: func(q string) string {
		return "Answer the following question by reasoning step by step:\n" +
			"Step 1: analyse the question\n" +
			"Step 2: gather the relevant information\n" +
			"Step 3: reason through it logically\n" +
			"Step 4: state the conclusion\n\n" +
			"Question: " + q
	},
}

// Compose builds the prompt for question in the given style. When passages is not
// empty they are listed, numbered from 1, ahead of the instructions.
func Compose(question string, style models.PromptStyle, passages []string) (string, error) {
	tmpl, ok := templates[style]
	if !ok {
		return "", fmt.Errorf("%w: unknown prompt style %q", core.ErrInvalidInput, style)
	}

	var b strings.Builder
	if len(passages) > 0 {
		b.WriteString("Reference documents:\n\n")
		for i, p := range passages {
			fmt.Fprintf(&b, "Document %d:\n%s\n\n", i+1, p)
		}
		b.WriteString("---\n\n")
	}
	b.WriteString(tmpl(question))
	return b.String(), nil
}
