package audit

import (
	"fmt"
	"time"
)

// Alert severities and types produced by the anomaly scan.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"

	AlertExcessiveDenials = "excessive_denials"
	AlertSuspiciousIP     = "suspicious_ip"
)

// Alert flags suspicious activity found in the audit trail.
type Alert struct {
	Type      string     `json:"type"`
	Severity  string     `json:"severity"`
	Message   string     `json:"message"`
	ActorID   *int64     `json:"actorId,omitempty"`
	IP        string     `json:"ip,omitempty"`
	Count     int64      `json:"count"`
	FirstSeen *time.Time `json:"firstSeen,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// AlertConfig tunes the anomaly scan.
type AlertConfig struct {
	Window        time.Duration
	MaxDenials    int64
	SuspiciousIPs []string
}

// DenialGroup is a cluster of denials by the same actor from the same
// source address.
type DenialGroup struct {
	ActorID   *int64
	IP        string
	Count     int64
	FirstSeen time.Time
}

// IPActivity summarizes traffic from one source address.
type IPActivity struct {
	IP       string
	Count    int64
	LastSeen time.Time
}

func denialAlert(g DenialGroup) Alert {
	first := g.FirstSeen
	actor := "anonymous"
	if g.ActorID != nil {
		actor = fmt.Sprintf("actor %d", *g.ActorID)
	}
	return Alert{
		Type:      AlertExcessiveDenials,
		Severity:  SeverityHigh,
		Message:   fmt.Sprintf("%s from %s was denied %d times", actor, g.IP, g.Count),
		ActorID:   g.ActorID,
		IP:        g.IP,
		Count:     g.Count,
		FirstSeen: &first,
	}
}

func suspiciousIPAlert(a IPActivity) Alert {
	last := a.LastSeen
	return Alert{
		Type:     AlertSuspiciousIP,
		Severity: SeverityMedium,
		Message:  fmt.Sprintf("flagged address %s produced %d requests", a.IP, a.Count),
		IP:       a.IP,
		Count:    a.Count,
		LastSeen: &last,
	}
}
