package stream

import "time"

// Clock supplies the current time. Cooldown and duration math go through it
// so tests can pin time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now() }
