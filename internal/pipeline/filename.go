package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	disallowedChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	repeatedUnders  = regexp.MustCompile(`_+`)
)

// sanitizeTargetName implements §6.2's path-segment rule: lowercase, any
// character outside [A-Za-z0-9_-] replaced by '_', runs of '_' collapsed,
// leading/trailing '_' stripped.
func sanitizeTargetName(name string) string {
	lower := strings.ToLower(name)
	replaced := disallowedChars.ReplaceAllString(lower, "_")
	collapsed := repeatedUnders.ReplaceAllString(replaced, "_")
	return strings.Trim(collapsed, "_")
}

// composeFilename prefixes the adapter-produced stem per §4.3 step 3 /
// §6.2's grammar.
func composeFilename(stem, trigger string, scheduleID *uuid.UUID, sanitizedTargetName string) string {
	if trigger == "scheduled" && scheduleID != nil {
		return fmt.Sprintf("sched-%s-%s", scheduleID.String(), stem)
	}
	return fmt.Sprintf("manual-%s-%s", sanitizedTargetName, stem)
}

// retentionPrefix is the scheduled-run sweep prefix from §4.3 step 6.
func retentionPrefix(sanitizedTargetName string, scheduleID uuid.UUID) string {
	return fmt.Sprintf("%s/sched-%s-", sanitizedTargetName, scheduleID.String())
}

// uploadPath is the destination path from §4.3 step 5.
func uploadPath(sanitizedTargetName, filename string) string {
	return fmt.Sprintf("%s/%s", sanitizedTargetName, filename)
}
