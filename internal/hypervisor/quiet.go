package hypervisor

import (
	"sync"

	log "github.com/activeshadow/libminimega/minilog"
)

// Quiet suppresses warning output for failed virsh commands until the
// returned release func is called. The suppression is reference counted so
// concurrent pollers can overlap; warnings resume when the last holder
// releases. The IP resolver holds this for its whole poll loop, where
// repeated agent queries fail loudly until the guest agent comes up.
func (a *Adapter) Quiet() func() {
	a.mu.Lock()
	a.suppress++
	a.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.suppress--
			a.mu.Unlock()
		})
	}
}

func (a *Adapter) warn(format string, args ...interface{}) {
	a.mu.Lock()
	quiet := a.suppress > 0
	a.mu.Unlock()

	if quiet {
		log.Debug(format, args...)
		return
	}

	log.Warn(format, args...)
}
