package agent

// loopWarnThreshold and loopCriticalThreshold bound how many consecutive
// identical tool calls (same name + args) are tolerated before warning the
// model, and before giving up on the run entirely.
const (
	loopWarnThreshold     = 3
	loopCriticalThreshold = 5
)

type toolCallRecord struct {
	name        string
	count       int
	lastResult  string
	sameResults int // consecutive calls that returned the same result
}

// toolLoopState tracks repeated tool calls within a single run to catch a
// model stuck calling the same tool with the same arguments without making
// progress.
type toolLoopState struct {
	byHash map[string]*toolCallRecord
}

// record fingerprints a tool call and bumps its count, returning the hash so
// the caller can pair it with recordResult/detect for the same call.
func (s *toolLoopState) record(name string, args map[string]interface{}) string {
	if s.byHash == nil {
		s.byHash = make(map[string]*toolCallRecord)
	}
	hash := hashToolCall(name, args)
	rec, ok := s.byHash[hash]
	if !ok {
		rec = &toolCallRecord{name: name}
		s.byHash[hash] = rec
	}
	rec.count++
	return hash
}

// recordResult notes whether this call's result matches the previous one for
// the same hash — identical results across repeats are the strongest signal
// of no progress.
func (s *toolLoopState) recordResult(hash, result string) {
	rec, ok := s.byHash[hash]
	if !ok {
		return
	}
	if rec.lastResult != "" && rec.lastResult == result {
		rec.sameResults++
	} else {
		rec.sameResults = 0
	}
	rec.lastResult = result
}

// detect returns ("warning"|"critical", message) once a hash has repeated
// with unchanged results past the relevant threshold, or ("", "") otherwise.
func (s *toolLoopState) detect(name, hash string) (string, string) {
	rec, ok := s.byHash[hash]
	if !ok || rec.sameResults == 0 {
		return "", ""
	}
	switch {
	case rec.sameResults >= loopCriticalThreshold:
		return "critical", "tool call loop: " + name + " called repeatedly with identical arguments and results"
	case rec.sameResults >= loopWarnThreshold:
		return "warning", "You've called " + name + " with the same arguments multiple times and gotten the same result. Try a different approach."
	default:
		return "", ""
	}
}
