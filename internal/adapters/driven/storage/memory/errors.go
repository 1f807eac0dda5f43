package memory

import "errors"

var errInjected = errors.New("memory: injected failure")
