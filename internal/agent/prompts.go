package agent

import "strings"

const toolHint = "Hinweis: Wenn du ein Tool verwenden möchtest, antworte NUR mit einer Zeile JSON.\n" +
	`Beispiel: {"tool": "search_memory", "args": {"query": "..."}}.` + "\n" +
	"Wenn du kein Tool brauchst, antworte direkt."

func basePrompt(userText, contextText string, withTools bool) string {
	var b strings.Builder
	b.WriteString("[Kontext]\n")
	b.WriteString(contextText)
	b.WriteString("\n\n[Aufgabe]\n")
	b.WriteString(userText)
	if withTools {
		b.WriteString("\n\n")
		b.WriteString(toolHint)
	}
	return b.String()
}

func followupPrompt(userText, contextText, toolResult string) string {
	var b strings.Builder
	b.WriteString("[Kontext]\n")
	b.WriteString(contextText)
	b.WriteString("\n\n[Aufgabe]\n")
	b.WriteString(userText)
	b.WriteString("\n\n[Tool-Result]\n")
	b.WriteString(toolResult)
	b.WriteString("\n\nBitte formuliere jetzt eine knappe, klare Antwort für den HMA.")
	return b.String()
}
