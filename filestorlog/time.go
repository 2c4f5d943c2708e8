package filestorlog

import "time"

// nowFunc is indirected so tests can pin the clock without touching the
// real wall clock.
var nowFunc = time.Now
