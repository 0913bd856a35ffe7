package events

import "time"

const (
	streamMaxAge = 7 * 24 * time.Hour
)
