package model

import "time"

// Snapshot is an immutable serialization of a session plus its answers,
// written to the durable cache after every mutation. A snapshot is always a
// strict superset of what the remote has acknowledged: resuming from a
// snapshot that is ahead of the remote is safe, trusting a remote that is
// ahead of the snapshot is not.
type Snapshot struct {
	Session Session        `json:"session"`
	Answers []AnswerRecord `json:"answers"`
	SavedAt time.Time      `json:"saved_at"`
}

// Clone returns a deep copy so published snapshots cannot alias controller
// state.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Session.QuestionIDs = append([]string(nil), s.Session.QuestionIDs...)
	if s.Session.TimeLimitSeconds != nil {
		v := *s.Session.TimeLimitSeconds
		out.Session.TimeLimitSeconds = &v
	}
	if s.Session.LastSyncedAt != nil {
		v := *s.Session.LastSyncedAt
		out.Session.LastSyncedAt = &v
	}
	if s.Session.FinalScore != nil {
		sc := *s.Session.FinalScore
		if sc.Breakdown != nil {
			sc.Breakdown = make(map[string]float64, len(s.Session.FinalScore.Breakdown))
			for k, v := range s.Session.FinalScore.Breakdown {
				sc.Breakdown[k] = v
			}
		}
		out.Session.FinalScore = &sc
	}
	out.Answers = append([]AnswerRecord(nil), s.Answers...)
	return out
}

// Answer returns the record for a question id, or nil.
func (s *Snapshot) Answer(questionID string) *AnswerRecord {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i]
		}
	}
	return nil
}

// Unsynced returns every answer not yet acknowledged by the remote.
func (s *Snapshot) Unsynced() []AnswerRecord {
	var out []AnswerRecord
	for _, a := range s.Answers {
		if a.SyncState != SyncStateSynced {
			out = append(out, a)
		}
	}
	return out
}
