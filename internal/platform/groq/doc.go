// Package groq implements generation.Completer against an OpenAI-compatible
// chat completions endpoint (Groq by default).
package groq
