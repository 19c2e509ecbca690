package testutil

import "time"

// PollInterval is the default spacing between condition checks.
const PollInterval = 5 * time.Millisecond

// SettleTimeout bounds waits on runner and bridge goroutines. Ticks run
// every few milliseconds in tests, so this only trips on a real hang.
const SettleTimeout = 5 * time.Second
