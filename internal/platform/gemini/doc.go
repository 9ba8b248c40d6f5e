// Package gemini implements generation.Completer on top of Google's genai SDK.
//
// It is an infrastructure adapter: it translates generation.Request into a
// GenerateContent call and maps SDK failures onto the generation error
// classes so the resilient client can decide what to retry. System messages
// become the system instruction; assistant messages are sent with the model
// role. JSON mode sets the response MIME type to application/json.
//
// The transport makes exactly one call per Complete. Rate limiting and
// retries are handled by generation.Client.
package gemini
