package domain

import "time"

// DefaultGroupSize is the chunk size used when auto-forming groups.
const DefaultGroupSize = 4

// Group is a roster of participants collaborating on a group stage. The
// task-type tag always matches the session's current group stage; the roster
// carries over unchanged when the session moves to the second group stage.
type Group struct {
	ID        string
	SessionID string
	Name      string
	// TaskType is the group stage this roster is currently tagged for.
	TaskType Stage
	// LeaderID is the participant holding the distinguished leader role,
	// always the first member added.
	LeaderID  string
	MemberIDs []string
	CreatedAt time.Time
}

// ChunkParticipants partitions participants into fixed-size chunks in join
// order. A final short chunk is kept rather than redistributed.
func ChunkParticipants(participants []Participant, size int) [][]Participant {
	if size <= 0 {
		size = DefaultGroupSize
	}
	var chunks [][]Participant
	for start := 0; start < len(participants); start += size {
		end := start + size
		if end > len(participants) {
			end = len(participants)
		}
		chunk := make([]Participant, end-start)
		copy(chunk, participants[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}
