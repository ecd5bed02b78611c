package chat

import "fmt"

const systemPrompt = `You are a helpful medical assistant. You are given an EHR clinical note from a patient and a User Query.
Your job is to answer the user's query based on the notes as accurately and comprehensively as possible.
Be concise and to the point, but thorough. DO NOT make up information. Your answer must be grounded in the notes.

If the User Query is not a medical query related to the notes AND does not relate to the prior conversation history, respond briefly and redirect the user to asking a medical question.

REFUSE to answer any queries that are offensive, racist, sexist, or otherwise inappropriate in a professional hospital setting.`

const perNoteUserPrompt = `<Task>
Please accurately answer the User Query based on the single clinical note below.
Take the entire conversation history into account in your response.
Any quote you cite as evidence must be taken verbatim from the note text below. Never quote from the conversation history.
</Task>

<User Query>
%s
</User Query>

<Note>
%s
</Note>

<Task>
Please answer the User Query based on the note, in JSON format.
</Task>`

const aggregateUserPrompt = `<Task>
Previously, you read through a series of clinical notes and answered the User Query based on each note independently.
Now, your task is to aggregate these note-level responses into a single coherent response.
The note-level responses below are ordered most recent note first.

Follow these rules:
1. If ANY note-level response supports a positive finding, report that finding, even if other notes are silent on it.
2. If two note-level responses directly contradict each other, prefer the response that appears earlier in the list, since it comes from the more recent note.
3. Preserve all evidence, quotes, and their 'source' note ids verbatim from the note-level responses you incorporate. Do not paraphrase quotes.
4. Write the final answer as plain unformatted text.
</Task>

<User Query>
%s
</User Query>

<Responses>
%s
</Responses>

<Task>
Please aggregate the responses into a single accurate response to the User Query in the correct JSON format, following the rules above.
</Task>`

func buildPerNotePrompt(query, noteText string) string {
	return fmt.Sprintf(perNoteUserPrompt, query, noteText)
}

func buildAggregatePrompt(query, responsesJSON string) string {
	return fmt.Sprintf(aggregateUserPrompt, query, responsesJSON)
}
