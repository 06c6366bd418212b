// Package reconnect decides whether and when a dropped session connects again.
package reconnect

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CodeLoggedOut           = 401
	CodeForbidden           = 403
	CodeMultideviceMismatch = 411
	CodeConnectionClosed    = 428
	CodeConnectionLost      = 408
	CodeReplaced            = 440
	CodeRestartRequired     = 515
)

type Decision struct {
	Retry bool
	// ClearAuth asks the caller to forget stored credentials, which forces a
	// fresh QR pairing on the next start.
	ClearAuth bool
	Reason    string
}

type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	Terminal    map[int]string
	ClearAuthOn map[int]bool
}

func DefaultPolicy() Policy {
	return Policy{
		Base: 2 * time.Second,
		Cap:  30 * time.Second,
		Terminal: map[int]string{
			CodeLoggedOut:           "logged out",
			CodeForbidden:           "forbidden",
			CodeMultideviceMismatch: "multi-device mismatch",
			CodeReplaced:            "connection replaced",
		},
		ClearAuthOn: map[int]bool{CodeLoggedOut: true},
	}
}

func (p Policy) Classify(code int) Decision {
	if reason, ok := p.Terminal[code]; ok {
		return Decision{Retry: false, ClearAuth: p.ClearAuthOn[code], Reason: reason}
	}
	return Decision{Retry: true, Reason: fmt.Sprintf("recoverable code %d", code)}
}

// Delay is min(Cap, Base*attempt) for attempt >= 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Cap > 0 && p.Base > 0 && attempt > int(p.Cap/p.Base) {
		return p.Cap
	}
	d := p.Base * time.Duration(attempt)
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

func (p Policy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("invalid reconnect base delay %s", p.Base)
	}
	if p.Cap < p.Base {
		return fmt.Errorf("invalid reconnect cap delay %s (below base %s)", p.Cap, p.Base)
	}
	return nil
}

type policyFile struct {
	BaseDelay   string         `yaml:"baseDelay"`
	CapDelay    string         `yaml:"capDelay"`
	Terminal    map[int]string `yaml:"terminal"`
	ClearAuthOn []int          `yaml:"clearAuthOn"`
}

// LoadPolicyFile overlays a YAML policy on top of base. Fields missing from
// the file keep the values of base; a terminal map in the file replaces the
// base map entirely.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reconnect: read policy: %w", err)
	}
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Policy{}, fmt.Errorf("reconnect: parse policy %s: %w", path, err)
	}

	p := base
	if s := strings.TrimSpace(f.BaseDelay); s != "" {
		if p.Base, err = time.ParseDuration(s); err != nil {
			return Policy{}, fmt.Errorf("reconnect: baseDelay: %w", err)
		}
	}
	if s := strings.TrimSpace(f.CapDelay); s != "" {
		if p.Cap, err = time.ParseDuration(s); err != nil {
			return Policy{}, fmt.Errorf("reconnect: capDelay: %w", err)
		}
	}
	if f.Terminal != nil {
		p.Terminal = f.Terminal
	}
	if f.ClearAuthOn != nil {
		p.ClearAuthOn = make(map[int]bool, len(f.ClearAuthOn))
		for _, code := range f.ClearAuthOn {
			p.ClearAuthOn[code] = true
		}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Tracker counts consecutive recoverable disconnects per session.
type Tracker struct {
	mu       sync.Mutex
	attempts map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{attempts: make(map[string]int)}
}

func (t *Tracker) Next(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[sessionID]++
	return t.attempts[sessionID]
}

func (t *Tracker) Reset(sessionID string) {
	t.mu.Lock()
	delete(t.attempts, sessionID)
	t.mu.Unlock()
}

func (t *Tracker) Attempts(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[sessionID]
}
