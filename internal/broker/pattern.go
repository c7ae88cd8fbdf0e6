package broker

import "strings"

// matchTopic implements AMQP-style topic routing: routing keys and
// binding patterns are dot-separated word sequences. "*" matches exactly
// one word, "#" matches zero or more words.
//
// This is a small, self-contained string algorithm with no natural third
// -party library fit in the corpus (amqp091-go only speaks the wire
// protocol to an external broker; it does not expose a reusable matcher),
// so it stays on the standard library.
func matchTopic(pattern, routingKey string) bool {
	patternWords := strings.Split(pattern, ".")
	keyWords := strings.Split(routingKey, ".")
	return matchWords(patternWords, keyWords)
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	head := pattern[0]
	switch head {
	case "#":
		if len(pattern) == 1 {
			return true
		}
		// "#" can absorb zero or more words; try every split point.
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	default:
		if len(key) == 0 || key[0] != head {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	}
}
