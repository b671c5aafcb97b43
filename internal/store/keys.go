package store

import (
	"fmt"
	"strings"

	"fleetwatch/internal/model"
)

const (
	statusPrefix     = "status:"
	failuresPrefix   = "failures:"
	failLogsPrefix   = "fail_logs:"
	tempErrorsPrefix = "temp_errors:"
	settingsPrefix   = "settings:"

	MuteAllKey      = "settings:mute_all"
	SortProjectsKey = "settings:sort_proj"
)

func StatusKey(project string) string {
	return statusPrefix + project
}

func FailuresKey(project string, worker string) string {
	return fmt.Sprintf("%s%s:%s", failuresPrefix, project, worker)
}

func FailLogsKey(project string, worker string) string {
	return fmt.Sprintf("%s%s:%s", failLogsPrefix, project, worker)
}

func TempErrorsKey(project string, item string) string {
	return fmt.Sprintf("%s%s:%s", tempErrorsPrefix, project, item)
}

func ProjectMuteKey(project string) string {
	return settingsPrefix + "mute:" + project
}

func NotifyKey(scope string, kind model.NotifyKind) string {
	return fmt.Sprintf("%snotify:%s:%s", settingsPrefix, scope, kind)
}

func CommandChannel(project string, worker string) string {
	return fmt.Sprintf("cmd:%s:%s", project, worker)
}

func projectFromStatusKey(key string) (string, bool) {
	project := strings.TrimPrefix(key, statusPrefix)
	if project == key || project == "" || strings.Contains(project, ":") {
		return "", false
	}
	return project, true
}

func encodeFlag(value bool) string {
	if value {
		return "1"
	}
	return "0"
}
