package ingress

import (
	"fmt"
	"strings"

	"github.com/asonix/eventbot/internal/domain"
)

// formatUpcomingEventsList renders the /events reply. Duplicated in
// shape from chatgw's listing (rather than imported) to keep Chat
// Ingress decoupled from the Chat Gateway's concrete formatting —
// both are grounded on the same original print_events.
func formatUpcomingEventsList(events []domain.Event) string {
	if len(events) == 0 {
		return "No upcoming events"
	}

	listings := make([]string, len(events))
	for i, e := range events {
		hosts := make([]string, len(e.Hosts))
		for j, h := range e.Hosts {
			hosts[j] = "@" + h.Username
		}
		listings[i] = fmt.Sprintf("%s\nDescription: %s\nHosts: %s", e.Title, e.Description, strings.Join(hosts, ", "))
	}
	return "Upcoming Events:\n\n" + strings.Join(listings, "\n\n")
}
