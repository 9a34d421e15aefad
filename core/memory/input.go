package memory

import (
	"strings"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
)

func ValidateInput(input game.SaveMemoryInput) error {
	switch {
	case len(strings.TrimSpace(input.ImageBase64)) < 8:
		return goerr.New("memory image is too short", goerr.V("length", len(input.ImageBase64)))
	case strings.TrimSpace(input.SourceRequestID) == "":
		return goerr.New("memory source request id is empty")
	case strings.TrimSpace(input.JudgeReason) == "":
		return goerr.New("memory judge reason is empty")
	case input.CapturedAt.IsZero():
		return goerr.New("memory capture time is not set")
	}
	return nil
}

// ValidateItem checks a memory coming back from the service.
func ValidateItem(item game.MemoryItem) error {
	switch {
	case item.ID == "":
		return goerr.New("memory id is empty")
	case item.ImageURL == "":
		return goerr.New("memory image url is empty", goerr.V("id", item.ID))
	case item.Summary == "":
		return goerr.New("memory summary is empty", goerr.V("id", item.ID))
	case item.SourceRequestID == "":
		return goerr.New("memory source request id is empty", goerr.V("id", item.ID))
	}
	return nil
}

// FallbackSummary is the diary line used when no summary could be written.
func FallbackSummary(input game.SaveMemoryInput) string {
	matched := "すてきなもの"
	if len(input.MatchedObjects) > 0 {
		matched = strings.Join(input.MatchedObjects, "、")
	}
	return "飼い主が" + matched + "を見せてくれたよ！"
}

// ImageURL turns a captured frame into the data URL stored with a memory.
func ImageURL(imageBase64 string) string {
	if strings.HasPrefix(imageBase64, "data:") {
		if _, payload, ok := strings.Cut(imageBase64, ","); ok {
			imageBase64 = payload
		}
	}
	return "data:image/jpeg;base64," + imageBase64
}
