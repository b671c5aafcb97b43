package model

import (
	"fmt"
	"regexp"
	"strconv"
)

type Progress struct {
	Detailed bool
	Done     int
	Total    int
	Success  int
	Failed   int
}

var detailedProgressPattern = regexp.MustCompile(`(\d+)/(\d+).*?✅\s*(\d+).*?❌\s*(\d+)`)

func FormatProgress(success int, failed int, total int) string {
	return fmt.Sprintf("%d/%d (✅%d ❌%d)", success+failed, total, success, failed)
}

// ParseProgress reads the display string first and falls back to the ordinal
// position fields.
func ParseProgress(record StatusRecord) (Progress, bool) {
	if match := detailedProgressPattern.FindStringSubmatch(record.Progress); match != nil {
		total, _ := strconv.Atoi(match[2])
		success, _ := strconv.Atoi(match[3])
		failed, _ := strconv.Atoi(match[4])
		return Progress{
			Detailed: true,
			Done:     success + failed,
			Total:    total,
			Success:  success,
			Failed:   failed,
		}, true
	}
	if record.PosCurrent > 0 && record.PosTotal > 0 {
		return Progress{Done: record.PosCurrent, Total: record.PosTotal}, true
	}
	return Progress{}, false
}

func ProgressBar(current int, total int, length int) string {
	if length <= 0 {
		length = 10
	}
	filled := 0
	if total > 0 {
		percent := float64(current) / float64(total)
		if percent > 1 {
			percent = 1
		}
		filled = int(float64(length) * percent)
	}
	bar := make([]rune, 0, length)
	for i := 0; i < length; i++ {
		if i < filled {
			bar = append(bar, '■')
		} else {
			bar = append(bar, '□')
		}
	}
	return string(bar)
}
