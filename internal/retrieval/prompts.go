package retrieval

import "strings"

const answerTemplate = `You answer questions using only the reference passages below.
Cite the source of each fact using the [source: ...] tag of the passage it came from.
If the passages do not contain the answer, say so.

Passages:
{context}

Question: {query}
Answer:`

const firstPassTemplate = `Condense the following passages into short notes that keep every fact relevant to the question.
Keep the [source: ...] tag of each passage attached to the notes taken from it.

Question: {query}

Passages:
{context}

Notes:`

const subsequentPassTemplate = `Merge the following notes into a shorter set of notes without losing facts relevant to the question.
Keep the [source: ...] tags that are already present.

Question: {query}

Notes:
{context}

Merged notes:`

func render(tmpl, query, context string) string {
	return strings.NewReplacer("{query}", query, "{context}", context).Replace(tmpl)
}

// AnswerPrompt renders the final generation prompt.
func AnswerPrompt(query, context string) string {
	return render(answerTemplate, query, context)
}

// ReducePrompt renders the summarization prompt for the given pass.
func ReducePrompt(pass int, query, context string) string {
	if pass == 1 {
		return render(firstPassTemplate, query, context)
	}
	return render(subsequentPassTemplate, query, context)
}
