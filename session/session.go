package session

// Session binds a transcript to its durable log and enforces the commit
// ordering the resume protocol depends on: every Commit* method appends to
// the log (synchronously flushed) before the in-memory transcript advances.
// A crash therefore leaves the log lagging or equal to committed state,
// never ahead of it.
type Session struct {
	Name       string
	Log        *Log
	Transcript *Transcript
}

// New creates a fresh session and records its start.
func New(name string) (*Session, error) {
	log, err := Open(name)
	if err != nil {
		return nil, err
	}
	s := &Session{Name: name, Log: log, Transcript: NewTranscript()}
	if err := log.Append(Entry{Kind: EntrySessionStart, Session: name}); err != nil {
		log.Close()
		return nil, err
	}
	return s, nil
}

// Resume rebuilds a session from its log and records the resume. The
// returned Pending tells the engine where to re-enter the turn.
func Resume(name string) (*Session, Pending, error) {
	transcript, pending, err := Replay(name)
	if err != nil {
		return nil, Pending{}, err
	}
	log, err := Open(name)
	if err != nil {
		return nil, Pending{}, err
	}
	s := &Session{Name: name, Log: log, Transcript: transcript}
	if err := log.Append(Entry{Kind: EntryResume, Session: name}); err != nil {
		log.Close()
		return nil, Pending{}, err
	}
	return s, pending, nil
}

// CommitTurnStart opens a turn with the user's input.
func (s *Session) CommitTurnStart(input string) error {
	if err := s.Log.Append(Entry{Kind: EntryTurnStart, Input: input}); err != nil {
		return err
	}
	s.Transcript.Append(UserText(input))
	return nil
}

// CommitAssistantStep records one model response.
func (s *Session) CommitAssistantStep(content []ContentBlock) error {
	if err := s.Log.Append(Entry{Kind: EntryAssistantStep, Content: content}); err != nil {
		return err
	}
	s.Transcript.Append(Assistant(content))
	return nil
}

// CommitToolResults records the result bundle answering a batch of tool calls.
func (s *Session) CommitToolResults(results []ContentBlock) error {
	if err := s.Log.Append(Entry{Kind: EntryToolResultStep, Results: results}); err != nil {
		return err
	}
	s.Transcript.Append(UserToolResults(results))
	return nil
}

// CommitTurnEnd closes the current turn.
func (s *Session) CommitTurnEnd(stopReason string) error {
	return s.Log.Append(Entry{Kind: EntryTurnEnd, StopReason: stopReason})
}

// CommitCompaction records a compaction, then replaces the transcript with
// the summary pair and re-appends the pending continuation, mirroring
// exactly what replay will rebuild.
func (s *Session) CommitCompaction(reason string, removedFrom, removedTo int, summary string, pending *Message) error {
	err := s.Log.Append(Entry{
		Kind:        EntryCompaction,
		Reason:      reason,
		RemovedFrom: removedFrom,
		RemovedTo:   removedTo,
		Summary:     summary,
		Pending:     pending,
	})
	if err != nil {
		return err
	}
	s.Transcript.Replace(CompactionReplacement(summary)...)
	if pending != nil {
		s.Transcript.Append(*pending)
	}
	return nil
}

// Close closes the log, removing it when the session never completed a turn.
func (s *Session) Close() error {
	return s.Log.CleanupIfEmpty()
}
