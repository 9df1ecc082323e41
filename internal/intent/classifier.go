// Package intent routes control phrases before an utterance reaches the
// recommendation backend.
package intent

import "strings"

// Intent is the classification of one committed utterance.
type Intent int

const (
	// Delegate means no local match; forward to the recommendation backend.
	Delegate Intent = iota
	// Exit ends the voice session after a spoken farewell.
	Exit
	// Help answers with the capability summary.
	Help
	// ViewCart answers with the cart summary.
	ViewCart
)

func (i Intent) String() string {
	switch i {
	case Exit:
		return "exit"
	case Help:
		return "help"
	case ViewCart:
		return "view_cart"
	default:
		return "delegate"
	}
}

var exitWords = []string{
	"bye", "goodbye", "exit", "quit", "see you", "that's all", "thats all", "stop listening",
}

var helpWords = []string{
	"help", "what can you do", "how does this work",
}

var cartWords = []string{
	"cart", "basket", "my order",
}

// Classify maps text to exactly one intent. Matching is case-insensitive
// substring containment; categories are checked in fixed priority order
// Exit > Help > ViewCart, falling through to Delegate.
func Classify(text string) Intent {
	lower := strings.ToLower(text)
	if containsAny(lower, exitWords) {
		return Exit
	}
	if containsAny(lower, helpWords) {
		return Help
	}
	if containsAny(lower, cartWords) {
		return ViewCart
	}
	return Delegate
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
