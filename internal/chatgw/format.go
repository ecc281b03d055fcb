package chatgw

import (
	"fmt"
	"strings"
	"time"

	"github.com/asonix/eventbot/internal/domain"
)

// formatDuration renders an event's length the way the original bot's
// Telegram actor did: the coarsest non-zero unit, not a breakdown.
func formatDuration(event domain.Event) string {
	d := event.EndDate.Sub(event.StartDate)

	switch {
	case d >= 7*24*time.Hour:
		return fmt.Sprintf("%d Weeks", int(d/(7*24*time.Hour)))
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d Days", int(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%d Hours", int(d/time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%d Minutes", int(d/time.Minute))
	default:
		return "No time"
	}
}

var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

var monthNames = [...]string{
	"", "January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

func daySuffix(day int) string {
	switch day {
	case 1, 21, 31:
		return "st"
	case 2, 22:
		return "nd"
	case 3, 23:
		return "rd"
	default:
		return "th"
	}
}

// formatDate renders a timestamp in the event's own timezone, matching
// the original bot's format_date: "H:MM TZNAME, Weekday, Month Dth".
func formatDate(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)

	minute := fmt.Sprintf("%02d", local.Minute())

	return fmt.Sprintf("%d:%s %s, %s, %s %d%s",
		local.Hour(),
		minute,
		tz,
		weekdayNames[local.Weekday()],
		monthNames[local.Month()],
		local.Day(),
		daySuffix(local.Day()),
	)
}

func formatHosts(hosts []domain.Host) string {
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = "@" + h.Username
	}
	return strings.Join(names, ", ")
}

func newEventMessage(event domain.Event) string {
	when := formatDate(event.StartDate, event.Timezone)
	length := formatDuration(event)
	return fmt.Sprintf("New Event!\n%s\nWhen: %s\nDuration: %s\nDescription: %s\nHosts: %s",
		event.Title, when, length, event.Description, formatHosts(event.Hosts))
}

func updateEventMessage(event domain.Event) string {
	when := formatDate(event.StartDate, event.Timezone)
	length := formatDuration(event)
	return fmt.Sprintf("Event Updated!\n%s\nWhen: %s\nDuration: %s\nDescription: %s",
		event.Title, when, length, event.Description)
}

func eventSoonMessage(event domain.Event) string {
	return fmt.Sprintf("Don't forget! %s is starting soon!", event.Title)
}

func eventStartedMessage(event domain.Event) string {
	return fmt.Sprintf("%s has started!", event.Title)
}

func eventOverMessage(event domain.Event) string {
	return fmt.Sprintf("%s has ended!", event.Title)
}

func eventListing(event domain.Event) string {
	when := formatDate(event.StartDate, event.Timezone)
	length := formatDuration(event)
	return fmt.Sprintf("%s\nWhen: %s\nDuration: %s\nDescription: %s\nHosts: %s",
		event.Title, when, length, event.Description, formatHosts(event.Hosts))
}

// formatUpcomingEvents renders the reply to /events: a blank-line
// separated listing, or a fixed message when there's nothing upcoming.
func formatUpcomingEvents(events []domain.Event) string {
	if len(events) == 0 {
		return "No upcoming events"
	}

	listings := make([]string, len(events))
	for i, e := range events {
		listings[i] = eventListing(e)
	}
	return "Upcoming Events:\n\n" + strings.Join(listings, "\n\n")
}
