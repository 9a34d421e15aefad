package game

import "time"

// Phase is the top-level progression of a game session.
type Phase string

const (
	PhaseMenu           Phase = "menu"
	PhaseListening      Phase = "listening"
	PhaseRequesting     Phase = "requesting"
	PhaseWaitingCapture Phase = "waiting_capture"
	PhaseValidating     Phase = "validating"
	PhaseReaction       Phase = "reaction"
	PhaseError          Phase = "error"
)

func (p Phase) IsValid() bool {
	switch p {
	case PhaseMenu, PhaseListening, PhaseRequesting, PhaseWaitingCapture,
		PhaseValidating, PhaseReaction, PhaseError:
		return true
	}
	return false
}

type Category string

const (
	CategoryFood    Category = "food"
	CategoryScenery Category = "scenery"
	CategoryObject  Category = "object"
	CategorySpot    Category = "spot"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryFood, CategoryScenery, CategoryObject, CategorySpot:
		return true
	}
	return false
}

// Request is a single ask from the character.
type Request struct {
	ID                 string   `json:"id" yaml:"id" jsonschema:"description=Unique identifier such as req-food-ramen-1"`
	Category           Category `json:"category" yaml:"category" jsonschema:"enum=food,enum=scenery,enum=object,enum=spot"`
	Prompt             string   `json:"prompt" yaml:"prompt" jsonschema:"description=What the character says when asking; one or two short sentences"`
	AcceptanceCriteria string   `json:"acceptanceCriteria" yaml:"acceptanceCriteria" jsonschema:"description=Lenient and concrete criteria used by the image judge"`
	HintPrompt         string   `json:"hintPrompt" yaml:"hintPrompt" jsonschema:"description=Gentle hint spoken in the character's voice"`
}

type Safety string

const (
	SafetySafe    Safety = "safe"
	SafetyUnsafe  Safety = "unsafe"
	SafetyUnknown Safety = "unknown"
)

type JudgeResult struct {
	Passed         bool     `json:"passed"`
	Reason         string   `json:"reason"`
	Confidence     float64  `json:"confidence"`
	MatchedObjects []string `json:"matchedObjects"`
	Safety         Safety   `json:"safety"`
}

type ReactionResult struct {
	VoiceText          string `json:"voiceText" jsonschema:"description=Line spoken aloud by the character; one or two short sentences"`
	IllustrationPrompt string `json:"illustrationPrompt" jsonschema:"description=English prompt describing the character's emotion for illustration"`
	EmotionTag         string `json:"emotionTag" jsonschema:"description=Emotion tag such as happy or excited or grateful"`
}

type HistoryItem struct {
	RequestID  string    `json:"requestId"`
	Passed     bool      `json:"passed"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

type MemoryItem struct {
	ID              string    `json:"id"`
	ImageURL        string    `json:"imageUrl"`
	Summary         string    `json:"summary"`
	CreatedAt       time.Time `json:"createdAt"`
	SourceRequestID string    `json:"sourceRequestId"`
	EmotionTag      *string   `json:"emotionTag"`
}

// CollectedAvatar is an illustration of the character earned by completing a
// request.
type CollectedAvatar struct {
	ID            string    `json:"id"`
	ImageURL      string    `json:"imageUrl"`
	EmotionTag    string    `json:"emotionTag"`
	RequestPrompt string    `json:"requestPrompt"`
	CreatedAt     time.Time `json:"createdAt"`
}

type ConversationState struct {
	IsLiveConnected bool   `json:"isLiveConnected"`
	IsListening     bool   `json:"isListening"`
	IsSpeaking      bool   `json:"isSpeaking"`
	LastTranscript  string `json:"lastTranscript"`
	LastError       string `json:"lastError"`
}

type GeoLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address,omitempty"`
}

// State is an immutable snapshot of a game session. Transitions always build
// a new value; slices are never appended to in place.
type State struct {
	Phase               Phase             `json:"phase"`
	CurrentRequest      *Request          `json:"currentRequest"`
	LastJudge           *JudgeResult      `json:"lastJudge"`
	LastIllustrationURL *string           `json:"lastIllustrationUrl"`
	RequestHistory      []HistoryItem     `json:"requestHistory"`
	Memories            []MemoryItem      `json:"memories"`
	CollectedGemies     []CollectedAvatar `json:"collectedGemies"`
	Conversation        ConversationState `json:"conversation"`
	Location            *GeoLocation      `json:"location,omitempty"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// SaveMemoryInput is what gets sent to the memory service once a photo has
// been accepted.
type SaveMemoryInput struct {
	ImageBase64     string    `json:"imageBase64"`
	SourceRequestID string    `json:"sourceRequestId"`
	JudgeReason     string    `json:"judgeReason"`
	MatchedObjects  []string  `json:"matchedObjects"`
	CapturedAt      time.Time `json:"capturedAt"`
}
