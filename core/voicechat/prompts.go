package voicechat

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
)

const (
	recentMemoryCount = 5

	NoMemoriesYetMessage     = "まだ思い出がないみたい。"
	MemoriesExhaustedMessage = "全部の思い出を振り返ったみたい。また新しい思い出を作ろうね！"
)

// NextMemoryPhrases make a recall-mode utterance move on to another memory
// when any of them appears in it. The set is fixed: 次 (next), 他の (other),
// 別の (another), もう一つ (one more).
var NextMemoryPhrases = []string{"次", "他の", "別の", "もう一つ"}

func WantsNextMemory(transcript string) bool {
	for _, phrase := range NextMemoryPhrases {
		if strings.Contains(transcript, phrase) {
			return true
		}
	}
	return false
}

func buildMemoryContext(memories []game.MemoryItem) string {
	if len(memories) == 0 {
		return "まだ思い出はありません。"
	}

	recent := memories[max(0, len(memories)-recentMemoryCount):]
	lines := make([]string, 0, len(recent))
	for i, memory := range recent {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, memory.Summary))
	}
	return strings.Join(lines, "\n")
}

func buildTimeContext(now time.Time) string {
	return fmt.Sprintf("現在の時刻: %s%d時%d分", game.TimeSlotOf(now).Label(), now.Hour(), now.Minute())
}

func buildLocationContext(location *game.GeoLocation) string {
	if location == nil {
		return ""
	}

	accuracy := int(math.Round(location.Accuracy))
	if location.Address != "" {
		return fmt.Sprintf("ユーザーの現在地: %s（精度%dm）", location.Address, accuracy)
	}
	return fmt.Sprintf("ユーザーの現在地: 緯度%s, 経度%s（精度%dm）",
		strconv.FormatFloat(location.Latitude, 'f', -1, 64),
		strconv.FormatFloat(location.Longitude, 'f', -1, 64),
		accuracy)
}

// joinSections drops empty sections and separates the rest with a blank
// line.
func joinSections(sections ...string) string {
	kept := sections[:0:0]
	for _, section := range sections {
		if section != "" {
			kept = append(kept, section)
		}
	}
	return strings.Join(kept, "\n\n")
}

func BuildReplyPrompt(userText string, memories []game.MemoryItem, location *game.GeoLocation, now time.Time) string {
	return joinSections(
		"あなたはジェミー君です。日本語で、明るく親しみやすく短めに話してください。",
		"ユーザーと音声会話しているので、出力は読み上げやすい自然な話し言葉にしてください。",
		"「合格」「判定」「条件」などのシステム用語は絶対に使わないでください。",
		buildTimeContext(now),
		buildLocationContext(location),
		"時刻や場所について聞かれたら、上記の情報をもとに自然に答えてください。知らない場所の詳細を捏造しないでください。",
		"思い出一覧:\n"+buildMemoryContext(memories),
		"ユーザーの発話: "+userText,
		"思い出に軽く触れつつ返答してください。",
	)
}

func BuildRecallReplyPrompt(userText string, memories []game.MemoryItem, current game.MemoryItem, location *game.GeoLocation, now time.Time) string {
	return joinSections(
		"あなたはジェミー君です。今、飼い主と一緒に過去の思い出を振り返っています。",
		"日本語で、懐かしそうに、楽しそうに、短めに話してください。",
		"ユーザーと音声会話しているので、出力は読み上げやすい自然な話し言葉にしてください。",
		"「合格」「判定」「条件」などのシステム用語は絶対に使わないでください。",
		buildTimeContext(now),
		buildLocationContext(location),
		"今話している思い出: "+current.Summary,
		"思い出一覧:\n"+buildMemoryContext(memories),
		"ユーザーの発話: "+userText,
		"ユーザーの発話に応じつつ、今の思い出や他の思い出の話をしてください。",
		"次の思い出に移りたいときは「次の思い出見る？」と聞いてください。",
	)
}

func BuildRecallIntroPrompt(memory game.MemoryItem) string {
	emotion := ""
	if memory.EmotionTag != nil && *memory.EmotionTag != "" {
		emotion = "そのときの気持ち: " + *memory.EmotionTag
	}

	return joinSections(
		"あなたはジェミー君です。今、飼い主と一緒に過去の思い出を振り返っています。",
		"以下の思い出について、楽しそうに懐かしそうに2〜3文で話してください。",
		"ユーザーと音声会話しているので、出力は読み上げやすい自然な話し言葉にしてください。",
		"思い出: "+memory.Summary,
		"記録した日: "+memory.CreatedAt.Format(time.RFC3339),
		emotion,
		"「合格」「判定」などのシステム用語は絶対に使わないでください。",
		"飼い主と一緒に体験した楽しい出来事として自然に話してください。",
		"話し終わったら「何か聞きたいことある？」のように会話を促してください。",
	)
}

// pickMemory returns a random memory other than excludeID, or false when
// there is none.
func pickMemory(memories []game.MemoryItem, excludeID string, intn func(int) int) (game.MemoryItem, bool) {
	candidates := make([]game.MemoryItem, 0, len(memories))
	for _, memory := range memories {
		if excludeID != "" && memory.ID == excludeID {
			continue
		}
		candidates = append(candidates, memory)
	}
	if len(candidates) == 0 {
		return game.MemoryItem{}, false
	}
	return candidates[intn(len(candidates))], true
}

func defaultIntn(n int) int { return rand.IntN(n) }
