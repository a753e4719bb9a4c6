package conversation

import "fmt"

// DefaultSystemPrompt is used when no conversation prompt file is configured
const DefaultSystemPrompt = "You are a helpful assistant."

// Fallback texts substituted when a collaborator fails
const (
	UnrecognizedSpeechText = "(User audio was empty or indecipherable)"
	RecognitionFailedText  = "(Speech recognition service failed)"
	GreetingFailedReply    = "I'm sorry, I'm having trouble connecting right now. Please try again in a moment."
	TurnFailedReply        = "Sorry, there was an error with the local LLM."
)

func genericOpening(username string) string {
	return fmt.Sprintf("Hi %s, how may I help you today?", username)
}

func personalizedOpening(username, info string) string {
	return fmt.Sprintf("You're connected to an existing user: %s. Current info: %s. "+
		"Your tone should be warm and friendly. Start with a personalized, professional greeting. "+
		"Do not list all details unless necessary. Begin.", username, info)
}

func unreadableHistoryOpening(username string) string {
	return fmt.Sprintf("Hi %s, I had some trouble retrieving your previous information, "+
		"but I'm here to help. How can I assist you today?", username)
}
