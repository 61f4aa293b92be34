package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types sent by clients.
const (
	TypeCreateRoom      = "CREATE_ROOM"
	TypeJoinRoom        = "JOIN_ROOM"
	TypeCheckRoom       = "CHECK_ROOM"
	TypeChatMessage     = "CHAT_MESSAGE"
	TypeHostAction      = "HOST_ACTION"
	TypeMove            = "MOVE"
	TypeRequestQuestion = "REQUEST_QUESTION"
	TypeAnswer          = "ANSWER"
	TypeReachedFinish   = "REACHED_FINISH"
	TypePing            = "PING"
)

// Message types sent by the server.
const (
	TypeRoomCreated       = "ROOM_CREATED"
	TypeJoinSuccess       = "JOIN_SUCCESS"
	TypeCheckRoomResponse = "CHECK_ROOM_RESPONSE"
	TypeError             = "ERROR"
	TypePlayerJoined      = "PLAYER_JOINED"
	TypePlayerLeft        = "PLAYER_LEFT"
	TypeSyncPlayers       = "SYNC_PLAYERS"
	TypeRoomDestroyed     = "ROOM_DESTROYED"
	TypeChatReceive       = "CHAT_RECEIVE"
	TypeChatStatus        = "CHAT_STATUS"
	TypeOpenGate          = "OPEN_GATE"
	TypeGamePaused        = "GAME_PAUSED"
	TypeGameResumed       = "GAME_RESUMED"
	TypeNewQuestion       = "NEW_QUESTION"
	TypeOutOfQuestions    = "OUT_OF_QUESTIONS"
	TypeAnswerResult      = "ANSWER_RESULT"
	TypeProgressUpdate    = "PROGRESS_UPDATE"
	TypeGameOverSummary   = "GAME_OVER_SUMMARY"
	TypeReturnToHome      = "RETURN_TO_HOME"
	TypePong              = "PONG"
)

// HOST_ACTION payload values.
const (
	ActionStartGame  = "START_GAME"
	ActionPauseGame  = "PAUSE_GAME"
	ActionResumeGame = "RESUME_GAME"
	ActionMuteChat   = "MUTE_CHAT"
	ActionUnmuteChat = "UNMUTE_CHAT"
)

// CHECK_ROOM_RESPONSE payload values.
const (
	RoomFound    = "FOUND"
	RoomFull     = "FULL"
	RoomNotFound = "NOT_FOUND"
)

// ANSWER_RESULT payload values.
const (
	AnswerCorrect = "CORRECT"
	AnswerWrong   = "WRONG"
)

// Envelope is the single wire unit exchanged over both transports. Payload
// is an opaque string; several message types nest JSON records inside it.
type Envelope struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	Payload  string `json:"payload"`
}

// Handshake is carried in the payload of CREATE_ROOM and JOIN_ROOM.
type Handshake struct {
	PlayerName    string `json:"playerName"`
	RoomID        string `json:"roomId"`
	QuestionsJSON string `json:"questionsJson,omitempty"`
	MaxPlayers    int    `json:"maxPlayers"`
	CaptchaToken  string `json:"captchaToken,omitempty"`
}

// DefaultTimeLimit is applied to questions that omit a time limit.
const DefaultTimeLimit = 15

// Question is one quiz entry. CorrectIndex is 0-based into Options. The
// answer key never leaves the server; see Sanitized.
type Question struct {
	ID           int      `json:"id"`
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Category     string   `json:"category,omitempty"`
	TimeLimit    int      `json:"timeLimit"`
}

// Sanitized returns a copy safe to send to clients, with the answer key
// replaced by -1.
func (q Question) Sanitized() Question {
	q.CorrectIndex = -1
	return q
}

// PlayerState is the public per-player record used by PLAYER_JOINED,
// SYNC_PLAYERS, and MOVE payloads.
type PlayerState struct {
	PlayerID   string  `json:"playerId"`
	PlayerName string  `json:"playerName"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Score      int     `json:"score"`
	IsReady    bool    `json:"isReady"`
}

// PlayerProgress is one leaderboard row in PROGRESS_UPDATE payloads.
// IsAlive is false once the player has crossed the finish line; the UI
// uses it to gray out finished rows.
type PlayerProgress struct {
	PlayerID           string  `json:"playerId"`
	PlayerName         string  `json:"playerName"`
	ProgressPercentage float64 `json:"progressPercentage"`
	Score              int     `json:"score"`
	IsAlive            bool    `json:"isAlive"`
}

// AnswerPayload is the decoded ANSWER payload. The question being answered
// is implicit in the sender's current question index.
type AnswerPayload struct {
	AnswerIndex int    `json:"answerIndex"`
	MonsterID   string `json:"monsterId"`
}

// FinalRank is one GAME_OVER_SUMMARY row.
type FinalRank struct {
	Name  string  `json:"name"`
	Score int     `json:"score"`
	Time  float64 `json:"time"`
}

// Encode serializes an envelope to its wire bytes.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses wire bytes into an envelope. A missing type is treated as
// malformed so that empty frames do not masquerade as valid messages.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}

// MarshalPayload serializes a record for nesting inside an envelope payload.
func MarshalPayload(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// UnmarshalPayload decodes a record nested inside an envelope payload.
// Decode failures are protocol errors; callers drop the frame.
func UnmarshalPayload(payload string, v any) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ParseQuestions decodes the inline question set supplied at room creation.
// Entries whose answer key does not index into their options are dropped:
// they could never be answered correctly. Zero or negative time limits fall
// back to DefaultTimeLimit, and missing ids are assigned sequentially,
// matching what the CSV importer produces.
func ParseQuestions(questionsJSON string) ([]Question, error) {
	var raw []Question
	if err := json.Unmarshal([]byte(questionsJSON), &raw); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}

	questions := make([]Question, 0, len(raw))
	for _, q := range raw {
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			continue
		}
		if q.TimeLimit <= 0 {
			q.TimeLimit = DefaultTimeLimit
		}
		questions = append(questions, q)
	}
	for i := range questions {
		if questions[i].ID == 0 {
			questions[i].ID = i + 1
		}
	}
	return questions, nil
}
