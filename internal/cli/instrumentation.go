package cli

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/reality-quest/internal/cli"

var logger = otelslog.NewLogger(scopeName)
