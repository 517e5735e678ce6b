package model

import "time"

// Shared defaults used by the server and CLI commands.
const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultConcurrency  = 1
	DefaultTablePrefix  = ""
)
