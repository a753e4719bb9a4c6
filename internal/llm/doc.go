// Package llm implements the chat completion client used for conversation
// replies and fact extraction. It talks to any OpenAI-compatible server,
// such as a local Ollama instance, and reports every failure as ErrTransport.
package llm
