package notify

import (
	"context"
	log "log/slog"

	"github.com/gen2brain/beeep"

	"kiosk/internal/domain"
)

// Toaster shows a notification inside the kiosk UI.
type Toaster interface {
	Toast(ctx context.Context, n domain.Notification) error
}

type DesktopFunc func(title, message string, icon any) error

// Notifier fans a notification out to the UI and, optionally, the desktop.
type Notifier struct {
	toaster Toaster
	desktop DesktopFunc
	alert   DesktopFunc
	icon    string
}

// New returns a Notifier. A nil toaster only logs and shows desktop popups.
func New(toaster Toaster, desktop bool, icon string) *Notifier {
	n := &Notifier{toaster: toaster, icon: icon}
	if desktop {
		n.desktop = beeep.Notify
		n.alert = beeep.Alert
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, note domain.Notification) {
	if note.Duration == 0 {
		note.Duration = domain.DefaultNotificationDuration
	}

	switch note.Status {
	case domain.StatusError, domain.StatusWarning:
		log.Warn(note.Title, "description", note.Description, "status", note.Status)
	default:
		log.Info(note.Title, "description", note.Description, "status", note.Status)
	}

	if n.toaster != nil {
		if err := n.toaster.Toast(ctx, note); err != nil {
			log.Debug("Failed to show toast", "err", err)
		}
	}

	show := n.desktop
	if note.Status == domain.StatusError && n.alert != nil {
		show = n.alert
	}
	if show != nil {
		if err := show(note.Title, note.Description, n.icon); err != nil {
			log.Debug("Failed to show desktop notification", "err", err)
		}
	}
}
