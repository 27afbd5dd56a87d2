package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Freedesktop urgency levels.
const (
	urgencyLow      byte = 0
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// desktopNote is one org.freedesktop.Notifications.Notify call.
type desktopNote struct {
	appName   string
	replaceID uint32
	icon      string
	summary   string
	urgency   byte
	category  string // x-parley.<state>
	timeoutMS int
}

func (d desktopNote) args() []string {
	return []string{
		"Notify", "susssasa{sv}i",
		d.appName,
		strconv.FormatUint(uint64(d.replaceID), 10),
		d.icon,
		d.summary,
		"",  // body
		"0", // no actions
		"2", "urgency", "y", strconv.Itoa(int(d.urgency)),
		"category", "s", d.category,
		strconv.Itoa(d.timeoutMS),
	}
}

// sendDesktopNote shows or replaces a notification and returns its server ID.
func sendDesktopNote(ctx context.Context, note desktopNote) (uint32, error) {
	out, err := busctl(ctx, note.args()...)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: %w", err)
	}

	// busctl prints the reply as "u <id>"
	fields := strings.Fields(out)
	if len(fields) != 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify: unexpected reply %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: notification id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

func closeDesktopNote(ctx context.Context, id uint32) error {
	if _, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("desktop dismiss: %w", err)
	}
	return nil
}

// busctl calls one method on the user session's notification service.
func busctl(ctx context.Context, methodArgs ...string) (string, error) {
	args := append([]string{
		"--user", "call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
	}, methodArgs...)

	out, err := exec.CommandContext(ctx, "busctl", args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", err, trimmed)
	}
	return trimmed, nil
}
