package model

import "strings"

type AlertType string

const (
	AlertTypeSuccess        AlertType = "success"
	AlertTypeError          AlertType = "error"
	AlertTypeLog            AlertType = "log"
	AlertTypeInfo           AlertType = "info"
	AlertTypeWorkerFinished AlertType = "worker_finished"
	AlertTypeLogDelivery    AlertType = "log_delivery"
)

// NotifyKind is the settings dimension of the mute hierarchy.
type NotifyKind string

const (
	NotifyKindSuccess NotifyKind = "success"
	NotifyKindError   NotifyKind = "error"
	NotifyKindLog     NotifyKind = "log"
	NotifyKindOther   NotifyKind = "other"
)

// GlobalScope is the settings scope every project inherits from.
const GlobalScope = "GLOBAL"

var NotifyKinds = []NotifyKind{NotifyKindSuccess, NotifyKindError, NotifyKindLog, NotifyKindOther}

func ParseNotifyKind(value string) (NotifyKind, bool) {
	kind := NotifyKind(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range NotifyKinds {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}

// Kind maps an alert type onto the settings kind it is filtered by.
func (t AlertType) Kind() NotifyKind {
	s := strings.ToLower(string(t))
	switch {
	case strings.Contains(s, "log"):
		return NotifyKindLog
	case strings.Contains(s, "error"):
		return NotifyKindError
	case strings.Contains(s, "success"):
		return NotifyKindSuccess
	default:
		return NotifyKindOther
	}
}

// BypassesKindFilter reports whether only the kill switch and project mute
// apply to this type.
func (t AlertType) BypassesKindFilter() bool {
	return t == AlertTypeWorkerFinished || t == AlertTypeLogDelivery
}

// Alert is the message carried on the shared alert channel.
type Alert struct {
	ID      string    `json:"id,omitempty"`
	Type    AlertType `json:"type"`
	Project string    `json:"project"`
	Worker  string    `json:"worker"`
	Text    string    `json:"text"`
}

type Command string

const (
	CommandUpdateStatus Command = "update_status"
	CommandGetLog       Command = "get_log"
)

func ParseCommand(value string) (Command, bool) {
	switch Command(strings.TrimSpace(value)) {
	case CommandUpdateStatus:
		return CommandUpdateStatus, true
	case CommandGetLog:
		return CommandGetLog, true
	default:
		return "", false
	}
}
