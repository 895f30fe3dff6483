// Package advisor answers "how is my cook going" questions by summarizing a
// session's recent probe readings into a prompt for an OpenAI-compatible
// chat model. The feature is optional and off by default; everything else in
// the server works without it.
package advisor
