package interfaces

import "context"

// Translator is the machine-translation collaborator
type Translator interface {
	// Translate converts text from sourceLang into targetLang.
	// Implementations must honour ctx cancellation.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Broadcaster delivers push events to every open channel of a session
type Broadcaster interface {
	// Broadcast writes event to every channel of the session and returns
	// the number of channels that accepted it. Dead channels are pruned.
	Broadcast(sessionID string, event interface{}) int
}
