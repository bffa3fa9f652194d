package agent

import (
	"fmt"
	"strings"
)

const systemPrompt = `You control a web browser to complete the user's task.
Each turn you receive the task, the current page and your previous steps.
Reply with exactly one JSON object and nothing else, using one of these forms:
{"action":"navigate","url":"https://...","reason":"..."}
{"action":"click","index":3,"reason":"..."}
{"action":"type","index":5,"text":"...","submit":true,"reason":"..."}
{"action":"scroll","direction":"down","reason":"..."}
{"action":"back","reason":"..."}
{"action":"done","answer":"...","reason":"..."}
Indexes refer to the numbered interactive elements of the current page.
When the task asks for information, put the complete findings in "answer".
If a step failed, try a different approach instead of repeating it.`

func buildPrompt(task string, page Page, history []Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK:\n%s\n\n", task)

	b.WriteString("CURRENT PAGE:\n")
	if page.URL == "" || page.URL == "about:blank" {
		b.WriteString("(blank page, navigate somewhere first)\n")
	} else {
		fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", page.URL, page.Title)
	}

	if len(page.Elements) > 0 {
		b.WriteString("\nINTERACTIVE ELEMENTS:\n")
		elements := page.Elements
		if len(elements) > maxElements {
			elements = elements[:maxElements]
		}
		for _, el := range elements {
			fmt.Fprintf(&b, "[%d] <%s> %s\n", el.Index, el.Tag, el.Label)
		}
	}

	if text := strings.TrimSpace(page.Text); text != "" {
		fmt.Fprintf(&b, "\nVISIBLE TEXT:\n%s\n", truncate(text, maxPageText))
	}

	if len(history) > 0 {
		b.WriteString("\nPREVIOUS STEPS:\n")
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		for _, s := range history {
			desc := s.Action.String()
			if s.Action.Action == "" {
				desc = "(no action)"
			}
			if s.Err != nil {
				fmt.Fprintf(&b, "%d. %s -> FAILED: %v\n", s.Number, desc, s.Err)
			} else {
				fmt.Fprintf(&b, "%d. %s -> ok\n", s.Number, desc)
			}
		}
	}

	b.WriteString("\nNext action as JSON:")
	return b.String()
}
