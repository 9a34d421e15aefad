// Package quests holds the built-in requests: the seeds asked before any
// history exists and the per-time-slot fallbacks used when generation fails.
package quests

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed quests.yaml
var builtinYAML []byte

type Catalog struct {
	Seeds     []game.Request                 `yaml:"seeds"`
	Fallbacks map[game.TimeSlot]game.Request `yaml:"fallbacks"`
}

var timeSlots = []game.TimeSlot{
	game.TimeSlotMorning,
	game.TimeSlotDaytime,
	game.TimeSlotEvening,
	game.TimeSlotNight,
}

// Parse decodes a catalog and checks that it has at least one seed and a
// fallback for every time slot.
func Parse(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, goerr.Wrap(err, "failed to parse quest catalog")
	}

	if len(catalog.Seeds) == 0 {
		return nil, goerr.New("quest catalog has no seeds")
	}
	for i, seed := range catalog.Seeds {
		if err := Validate(seed); err != nil {
			return nil, goerr.Wrap(err, "invalid seed", goerr.V("index", i))
		}
	}
	for _, slot := range timeSlots {
		fallback, ok := catalog.Fallbacks[slot]
		if !ok {
			return nil, goerr.New("quest catalog has no fallback", goerr.V("slot", slot))
		}
		if err := Validate(fallback); err != nil {
			return nil, goerr.Wrap(err, "invalid fallback", goerr.V("slot", slot))
		}
	}

	return &catalog, nil
}

// Validate reports the first missing or malformed field of request.
func Validate(request game.Request) error {
	switch {
	case request.ID == "":
		return goerr.New("request id is empty")
	case !request.Category.IsValid():
		return goerr.New("unknown request category", goerr.V("category", request.Category))
	case request.Prompt == "":
		return goerr.New("request prompt is empty", goerr.V("id", request.ID))
	case request.AcceptanceCriteria == "":
		return goerr.New("request acceptance criteria are empty", goerr.V("id", request.ID))
	case request.HintPrompt == "":
		return goerr.New("request hint is empty", goerr.V("id", request.ID))
	}
	return nil
}

var builtin = sync.OnceValue(func() *Catalog {
	catalog, err := Parse(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in quest catalog is invalid: %v", err))
	}
	return catalog
})

// Builtin is the catalog compiled into the binary.
func Builtin() *Catalog {
	return builtin()
}

func (c *Catalog) FirstSeed() game.Request {
	return c.Seeds[0]
}

// Fallback picks the request for the time slot of now. Its id carries the
// time so repeated fallbacks stay distinguishable in the history.
func (c *Catalog) Fallback(now time.Time) game.Request {
	request := c.Fallbacks[game.TimeSlotOf(now)]
	request.ID = "fallback-" + now.Format(time.RFC3339)
	return request
}
