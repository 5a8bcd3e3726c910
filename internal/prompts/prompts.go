package prompts

import "fmt"

const DefaultSystem = "You are a friendly assistant calling a patient to remind them about their medication. " +
	"Keep replies short and conversational, one or two sentences. " +
	"When the conversation has reached a natural end, append the token HANGUPNOW to your reply."

// Greeting opens the call once a person answers.
func Greeting(patientName, medication string) string {
	name := patientName
	if name == "" {
		name = "there"
	}
	if medication == "" {
		return fmt.Sprintf("Hello %s! This is your medication reminder. Have you taken your medication today?", name)
	}
	return fmt.Sprintf("Hello %s! This is a reminder about your medication, %s. Have you taken it today?", name, medication)
}

// Voicemail is left on an answering machine after the beep.
func Voicemail(patientName, medication string) string {
	greeting := Greeting(patientName, medication)
	return greeting + " This was an automated reminder. Please remember to take your medication. Goodbye."
}

// SMSReminder is the text-message fallback when the call cannot be completed.
const SMSReminder = "We tried to reach you with your medication reminder but couldn't get through. " +
	"Please remember to take your medication today."
