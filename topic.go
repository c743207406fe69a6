package realtime

import (
	"fmt"
	"unicode/utf8"
)

// ValidateTopic checks that topic can be carried in a frame header:
// non-empty, valid UTF-8, and free of NUL, CR and LF.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}

	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTopic)
	}

	for _, r := range topic {
		switch r {
		case 0, '\r', '\n':
			return fmt.Errorf("%w: control character in %q", ErrInvalidTopic, topic)
		}
	}

	return nil
}
