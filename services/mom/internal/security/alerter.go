// Package security counts failed security events per client and flags bursts.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	observeTimeout = 2 * time.Second
	anyEvent       = "*"
)

// One hash per rule and window; fields are client addresses.
var windowCounterScript = redis.NewScript(`
local count = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
if redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return count
`)

type ruleKey struct {
	event   string
	outcome string
}

type rule struct {
	threshold int64
	window    time.Duration
}

var rules = map[ruleKey]rule{
	{anyEvent, "rate_limited"}:          {threshold: 20, window: time.Minute},
	{"mom.login", "fail"}:               {threshold: 10, window: 5 * time.Minute},
	{"mom.signup", "fail"}:              {threshold: 10, window: 5 * time.Minute},
	{"mom.logout", "fail"}:              {threshold: 15, window: 5 * time.Minute},
	{"mom.password.change", "fail"}:     {threshold: 15, window: 5 * time.Minute},
	{"mom.authorize", "fail"}:           {threshold: 25, window: 5 * time.Minute},
	{"mom.admin.authorize", "fail"}:     {threshold: 25, window: 5 * time.Minute},
	{"mom.transition", "fail"}:          {threshold: 25, window: 5 * time.Minute},
	{"mom.project.role.assign", "fail"}: {threshold: 25, window: 5 * time.Minute},
	{"mom.project.role.remove", "fail"}: {threshold: 25, window: 5 * time.Minute},
}

// AlertResult reports the client's count in the current window. Triggered is
// set only on the event that reaches the threshold, so one burst raises one
// alert; Exceeded stays set for the rest of the window.
type AlertResult struct {
	Triggered bool
	Exceeded  bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates security events in fixed Redis windows.
// A nil *AuditAlerter observes nothing.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter returns nil without a client.
func NewAuditAlerter(client *redis.Client, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "momflow:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}
}

// Observe counts one event for ip. Events without a rule are ignored.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	event, outcome = strings.TrimSpace(event), strings.TrimSpace(outcome)
	r, ok := lookupRule(event, outcome)
	if !ok {
		return AlertResult{}, nil
	}
	if ip = strings.TrimSpace(ip); ip == "" {
		ip = "unknown"
	}
	slot := a.now().UTC().UnixMilli() / r.window.Milliseconds()
	key := fmt.Sprintf("%s:%s:%s:%d", a.prefix, keySegment(event), keySegment(outcome), slot)

	ctx, cancel := context.WithTimeout(ctx, observeTimeout)
	defer cancel()
	count, err := windowCounterScript.Run(ctx, a.client, []string{key}, ip, r.window.Milliseconds()).Int64()
	if err != nil {
		return AlertResult{}, fmt.Errorf("count %s/%s: %w", event, outcome, err)
	}
	return AlertResult{
		Triggered: count == r.threshold,
		Exceeded:  count >= r.threshold,
		Count:     count,
		Threshold: r.threshold,
		Window:    r.window,
	}, nil
}

func lookupRule(event, outcome string) (rule, bool) {
	if r, ok := rules[ruleKey{event, outcome}]; ok {
		return r, true
	}
	r, ok := rules[ruleKey{anyEvent, outcome}]
	return r, ok
}

func keySegment(in string) string {
	if in == "" {
		return "unknown"
	}
	return strings.Map(func(c rune) rune {
		switch c {
		case ':', '|', ' ':
			return '_'
		}
		return c
	}, in)
}
