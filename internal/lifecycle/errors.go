package lifecycle

import "errors"

// ErrNoRuleset is returned when no enabled ruleset exists for the
// requested expert and use case.
var ErrNoRuleset = errors.New("no enabled ruleset for expert and use case")
