package camera

import (
	"bufio"
	"io"
)

const keyEscape = 0x1b

// KeyEvents maps keystrokes read from r to session events: space or enter
// captures, q or escape cancels. The channel closes when r ends.
func KeyEvents(r io.Reader) <-chan Event {
	events := make(chan Event, 1)
	go func() {
		defer close(events)
		br := bufio.NewReader(r)
		for {
			b, err := br.ReadByte()
			if err != nil {
				return
			}
			switch b {
			case ' ', '\n', '\r':
				events <- EventCapture
			case 'q', 'Q', keyEscape:
				events <- EventCancel
			}
		}
	}()
	return events
}
