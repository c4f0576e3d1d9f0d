package refresh

import "errors"

// ErrPassRunning is reported when a pass is requested while another runs.
var ErrPassRunning = errors.New("refresh pass already running")
