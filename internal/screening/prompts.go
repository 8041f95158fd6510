package screening

import "fmt"

// Prompt texts spoken through the assistant.
const (
	KeypadSuccessPrompt = "Thank you for your verification! I can help answer your questions relating to our products and services. I can also forward your call to a proper team or a person if you tell me what you need to do."
	VoiceSuccessPrompt  = "Thank you! How can I help you today?"
)

// ChallengePrompt asks the caller to say the code.
func ChallengePrompt(code string) string {
	return "Hello! For security, please say this 4-digit code: " + SpokenCode(code)
}

// KeypadRetryPrompt follows a wrong keyed code.
func KeypadRetryPrompt(code string) string {
	return fmt.Sprintf("Sorry, the passcode is incorrect. Can you repeat the number %s?", SpokenCode(code))
}

// VoiceRetryPrompt follows a wrong spoken code.
func VoiceRetryPrompt(code string) string {
	return "Sorry, that's not correct. Please say: " + SpokenCode(code)
}

// Greeting welcomes a verified caller, by name when known.
func Greeting(name string) string {
	if name == "" {
		return "Hello! Thank you for calling. How can I help you today?"
	}
	return fmt.Sprintf("Hello %s! Thank you for calling. How can I help you today?", name)
}
