package store

// ReadResult is a catch-up read's snapshot (spec §4.H).
type ReadResult struct {
	Body         []byte
	NextOffset   Offset
	UpToDate     bool
	StreamClosed bool
}

// Read implements the read engine (spec §4.H): locate the first message
// whose offset is strictly greater than the requested one, concatenate
// (and, for JSON streams, re-wrap) everything from there to the tail, and
// report the new tail plus whether the read observed everything committed
// at the instant it ran.
func (st *Store) Read(path string, offset Offset, isNow bool) (ReadResult, error) {
	s, err := st.Acquire(path)
	if err != nil {
		return ReadResult{}, err
	}
	defer st.Release(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	return readLocked(s, offset, isNow)
}

func readLocked(s *Stream, offset Offset, isNow bool) (ReadResult, error) {
	if isNow {
		offset = s.currentOffset
	}

	startIdx := len(s.messages)
	for i, m := range s.messages {
		if m.Offset.GreaterThan(offset) {
			startIdx = i
			break
		}
	}

	selected := s.messages[startIdx:]

	var body []byte
	if IsJSONContentType(s.contentType) {
		fragments := make([][]byte, len(selected))
		for i, m := range selected {
			fragments[i] = m.Data
		}
		body = formatJSONRead(fragments)
	} else {
		total := 0
		for _, m := range selected {
			total += len(m.Data)
		}
		body = make([]byte, 0, total)
		for _, m := range selected {
			body = append(body, m.Data...)
		}
	}

	return ReadResult{
		Body:         body,
		NextOffset:   s.currentOffset,
		UpToDate:     true,
		StreamClosed: s.closed,
	}, nil
}

// GetCurrentOffset returns the current tail offset for path.
func (st *Store) GetCurrentOffset(path string) (Offset, error) {
	s, err := st.Acquire(path)
	if err != nil {
		return Offset{}, err
	}
	defer st.Release(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentOffset, nil
}
