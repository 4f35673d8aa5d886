package firewall

import (
	"sync"

	"github.com/rs/zerolog"
)

// Firewall protects the control API login against brute force: an IP
// that fails authentication too often is blocked until the process
// restarts.
type Firewall struct {
	mu          sync.RWMutex
	threshold   int
	blacklisted map[string]bool
	failedAuths map[string]int
	log         zerolog.Logger
}

func New(threshold int, log zerolog.Logger) *Firewall {
	if threshold <= 0 {
		threshold = 5
	}
	return &Firewall{
		threshold:   threshold,
		blacklisted: make(map[string]bool),
		failedAuths: make(map[string]int),
		log:         log.With().Str("component", "firewall").Logger(),
	}
}

func (f *Firewall) IsAllowed(ip string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.blacklisted[ip]
}

func (f *Firewall) RecordFailedAuth(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failedAuths[ip]++
	if f.failedAuths[ip] >= f.threshold {
		f.blacklisted[ip] = true
		f.log.Warn().Str("ip", ip).Int("attempts", f.failedAuths[ip]).Msg("ip blocked")
	}
}

// RecordSuccess clears the failure counter after a good login.
func (f *Firewall) RecordSuccess(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failedAuths, ip)
}

func (f *Firewall) Blocked() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	list := make([]string, 0, len(f.blacklisted))
	for ip := range f.blacklisted {
		list = append(list, ip)
	}
	return list
}
