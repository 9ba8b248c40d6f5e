// Package service contains the use cases behind the HTTP API: submitting,
// inspecting and canceling jobs, and reading the caller's notifications.
//
// Services authorize every call against the caller's user id and translate
// store errors into the sentinel errors the API layer maps to status codes.
// They depend on the store contracts and the task runner, never on a
// concrete backend.
package service
