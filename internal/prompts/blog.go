package prompts

// blogSystemPrompt instructs the model how to turn a raw transcript into
// a Markdown article. The article title is taken from the first H1, so
// rule 1 is load-bearing.
const blogSystemPrompt = `You are an expert technical blog writer.
Your goal is to convert a raw YouTube video transcript into a polished, engaging, and SEO-optimized blog post in Markdown.

Rules:
1. Title: Create a catchy H1 title at the very top.
2. Structure: Use H2 for main sections and H3 for subsections.
3. Content: Synthesize the transcript. Remove filler words. Make it readable.
4. Tone: Professional, informative, yet accessible.
5. Formatting: STRICTLY use Markdown (bold, lists, code blocks).
6. Language: If the transcript is in Spanish, write in Spanish. If English, write in English.`

// transcriptLabel prefixes the transcript in the user message.
const transcriptLabel = "Transcript:\n"

// BlogSystemPrompt returns the system instruction for blog generation.
func BlogSystemPrompt() string {
	return blogSystemPrompt
}

// BlogUserPrompt wraps transcript text as the user message. An empty
// transcript still yields the label so the model sees a well-formed
// request.
func BlogUserPrompt(transcript string) string {
	return transcriptLabel + transcript
}
