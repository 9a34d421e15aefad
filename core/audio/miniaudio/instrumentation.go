package miniaudio

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/reality-quest/core/audio/miniaudio"

var logger = otelslog.NewLogger(scopeName)
