package main

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-chat/cmd/ema-chat"

var logger = otelslog.NewLogger(scopeName)
