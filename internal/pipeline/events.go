package pipeline

import "github.com/sitescope/siteaudit/internal/audit"

// Events carries the lifecycle callbacks for one runner invocation. All fields
// are optional; nil callbacks are skipped. Passing callbacks explicitly keeps
// the runner free of process-wide listener registries.
type Events struct {
	OnStart        func(key audit.ComponentKey, eventKey string)
	OnComplete     func(key audit.ComponentKey, eventKey string, payload any)
	OnFail         func(key audit.ComponentKey, eventKey string, reason string)
	OnPartialReady func()
}

func (e Events) start(key audit.ComponentKey, eventKey string) {
	if e.OnStart != nil {
		e.OnStart(key, eventKey)
	}
}

func (e Events) complete(key audit.ComponentKey, eventKey string, payload any) {
	if e.OnComplete != nil {
		e.OnComplete(key, eventKey, payload)
	}
}

func (e Events) fail(key audit.ComponentKey, eventKey string, reason string) {
	if e.OnFail != nil {
		e.OnFail(key, eventKey, reason)
	}
}

func (e Events) partialReady() {
	if e.OnPartialReady != nil {
		e.OnPartialReady()
	}
}
