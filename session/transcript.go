package session

// Transcript is the in-memory ordered message history of a session. It is
// append-only except for Replace, which the compactor uses to swap the whole
// history for its synthetic summary.
//
// Reads hand out copies: the model transport always receives a value
// snapshot, never a shared mutable slice, so retry and resume logic can
// reason about exact inputs.
type Transcript struct {
	messages []Message
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a message to the end of the history.
func (t *Transcript) Append(msg Message) {
	t.messages = append(t.messages, msg)
}

// Messages returns a snapshot copy of the history.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the final message, if any.
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// TurnStarts returns the indexes of the messages that open a turn. Every
// message from one index up to (but excluding) the next belongs to that turn.
func (t *Transcript) TurnStarts() []int {
	var starts []int
	for i, m := range t.messages {
		if m.IsTurnStart() {
			starts = append(starts, i)
		}
	}
	return starts
}

// NumTurns counts completed-or-in-flight turns.
func (t *Transcript) NumTurns() int {
	return len(t.TurnStarts())
}

// Replace swaps the entire history for msgs in one step.
func (t *Transcript) Replace(msgs ...Message) {
	t.messages = append([]Message(nil), msgs...)
}
