package httpapi

import (
	"context"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/yuin/goldmark"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

// defaultTimezone seeds the unfilled GET /events/new form, matching
// the original's use of the server's own clock in US/Central.
const defaultTimezone = "US/Central"

var offeredTimezones = []string{"US/Eastern", "US/Central", "US/Mountain", "US/Pacific"}

var monthNames = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

type monthOption struct {
	Index int
	Name  string
}

type formView struct {
	PageTitle   string
	SubmitURL   string
	Title       string
	Description string

	StartYear, StartMonth, StartDay, StartHour, StartMinute int
	EndYear, EndMonth, EndDay, EndHour, EndMinute            int
	Timezone                                                 string

	Years      []int
	Months     []monthOption
	Days       []int
	Hours      []int
	Minutes    []int
	Timezones  []string
	MissingKeys []string
}

type successView struct {
	PageTitle       string
	Title           string
	DescriptionHTML template.HTML
	When            string
}

// rawForm holds the submitted field values verbatim, before
// validation, so a failed submission can be re-rendered with
// everything the user already typed still in place.
type rawForm struct {
	title, description string
	startYear, startMonth, startDay, startHour, startMinute string
	endYear, endMonth, endDay, endHour, endMinute            string
	timezone                                                 string
}

func readRawForm(c echo.Context) rawForm {
	return rawForm{
		title:       c.FormValue("title"),
		description: c.FormValue("description"),
		startYear:   c.FormValue("start_year"),
		startMonth:  c.FormValue("start_month"),
		startDay:    c.FormValue("start_day"),
		startHour:   c.FormValue("start_hour"),
		startMinute: c.FormValue("start_minute"),
		endYear:     c.FormValue("end_year"),
		endMonth:    c.FormValue("end_month"),
		endDay:      c.FormValue("end_day"),
		endHour:     c.FormValue("end_hour"),
		endMinute:   c.FormValue("end_minute"),
		timezone:    c.FormValue("timezone"),
	}
}

// missingKeys reports which required fields are blank or fail to
// parse, mirroring OptionEvent.missing_keys.
func (f rawForm) missingKeys() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("title", f.title)
	check("description", f.description)
	checkInt := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
			return
		}
		if _, err := strconv.Atoi(value); err != nil {
			missing = append(missing, name)
		}
	}
	checkInt("year", f.startYear)
	checkInt("month", f.startMonth)
	checkInt("day", f.startDay)
	checkInt("hour", f.startHour)
	checkInt("minute", f.startMinute)
	checkInt("end_year", f.endYear)
	checkInt("end_month", f.endMonth)
	checkInt("end_day", f.endDay)
	checkInt("end_hour", f.endHour)
	checkInt("end_minute", f.endMinute)
	check("timezone", f.timezone)
	return missing
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// view renders f back into a formView for re-display, regardless of
// whether it validated — every value the user entered is preserved.
func (f rawForm) view(pageTitle, submitURL string, missing []string) formView {
	now := time.Now()
	years := make([]int, 0, 5)
	for y := now.Year(); y < now.Year()+5; y++ {
		years = append(years, y)
	}
	months := make([]monthOption, 12)
	for i, name := range monthNames {
		months[i] = monthOption{Index: i, Name: name}
	}
	days := make([]int, 31)
	for i := range days {
		days[i] = i + 1
	}
	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}
	minutes := make([]int, 60)
	for i := range minutes {
		minutes[i] = i
	}

	return formView{
		PageTitle:   pageTitle,
		SubmitURL:   submitURL,
		Title:       f.title,
		Description: f.description,
		StartYear:   atoiOrZero(f.startYear),
		StartMonth:  atoiOrZero(f.startMonth),
		StartDay:    atoiOrZero(f.startDay),
		StartHour:   atoiOrZero(f.startHour),
		StartMinute: atoiOrZero(f.startMinute),
		EndYear:     atoiOrZero(f.endYear),
		EndMonth:    atoiOrZero(f.endMonth),
		EndDay:      atoiOrZero(f.endDay),
		EndHour:     atoiOrZero(f.endHour),
		EndMinute:   atoiOrZero(f.endMinute),
		Timezone:    f.timezone,
		Years:       years,
		Months:      months,
		Days:        days,
		Hours:       hours,
		Minutes:     minutes,
		Timezones:   offeredTimezones,
		MissingKeys: missing,
	}
}

// parseDates resolves f's start/end fields into UTC timestamps. month
// is 0-based on the wire (form_month matches Rust's with_month0), so
// the stored Go month is value+1.
func (f rawForm) parseDates() (start, end time.Time, timezone string, err error) {
	loc, err := time.LoadLocation(f.timezone)
	if err != nil {
		return time.Time{}, time.Time{}, "", eventerr.New(eventerr.Frontend)
	}

	start = time.Date(
		atoiOrZero(f.startYear), time.Month(atoiOrZero(f.startMonth)+1), atoiOrZero(f.startDay),
		atoiOrZero(f.startHour), atoiOrZero(f.startMinute), 0, 0, loc,
	)
	end = time.Date(
		atoiOrZero(f.endYear), time.Month(atoiOrZero(f.endMonth)+1), atoiOrZero(f.endDay),
		atoiOrZero(f.endHour), atoiOrZero(f.endMinute), 0, 0, loc,
	)
	return start.UTC(), end.UTC(), f.timezone, nil
}

func (s *Server) newForm(c echo.Context) error {
	token := c.Param("token")
	view := rawForm{timezone: defaultTimezone}.view("Event Bot | New Event", "/events/new/"+token, nil)
	return s.tmpl.renderForm(c.Response(), view)
}

func (s *Server) editForm(c echo.Context) error {
	token := c.Param("token")
	plaintext, linkID, err := splitToken(token)
	if err != nil {
		return err
	}

	event, err := s.broker.LookupEditEvent(c.Request().Context(), linkID, plaintext)
	if err != nil {
		return mapBrokerError(err)
	}

	view := eventToRawForm(*event).view("Event Bot | Edit Event", "/events/edit/"+token, nil)
	return s.tmpl.renderForm(c.Response(), view)
}

func eventToRawForm(e domain.Event) rawForm {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		loc = time.UTC
	}
	start := e.StartDate.In(loc)
	end := e.EndDate.In(loc)
	return rawForm{
		title:       e.Title,
		description: e.Description,
		startYear:   strconv.Itoa(start.Year()),
		startMonth:  strconv.Itoa(int(start.Month()) - 1),
		startDay:    strconv.Itoa(start.Day()),
		startHour:   strconv.Itoa(start.Hour()),
		startMinute: strconv.Itoa(start.Minute()),
		endYear:     strconv.Itoa(end.Year()),
		endMonth:    strconv.Itoa(int(end.Month()) - 1),
		endDay:      strconv.Itoa(end.Day()),
		endHour:     strconv.Itoa(end.Hour()),
		endMinute:   strconv.Itoa(end.Minute()),
		timezone:    e.Timezone,
	}
}

func (s *Server) submitted(c echo.Context) error {
	token := c.Param("token")
	form := readRawForm(c)

	if missing := form.missingKeys(); len(missing) > 0 {
		view := form.view("Event Bot | New Event", "/events/new/"+token, missing)
		return s.tmpl.renderForm(c.Response(), view)
	}

	start, end, timezone, err := form.parseDates()
	if err != nil {
		view := form.view("Event Bot | New Event", "/events/new/"+token, []string{"timezone"})
		return s.tmpl.renderForm(c.Response(), view)
	}

	plaintext, linkID, err := splitToken(token)
	if err != nil {
		return err
	}

	create := domain.CreateEvent{
		Title:       strings.TrimSpace(form.title),
		Description: strings.TrimSpace(form.description),
		StartDate:   start,
		EndDate:     end,
		Timezone:    timezone,
	}

	event, err := s.broker.RedeemNewEvent(c.Request().Context(), linkID, plaintext, create)
	if err != nil {
		return mapBrokerError(err)
	}

	s.scheduler.Edit(c.Request().Context(), *event)
	s.announceNew(c.Request().Context(), *event)

	return s.tmpl.renderSuccess(c.Response(), http.StatusCreated, toSuccessView("Event Bot | Created Event", *event))
}

func (s *Server) updated(c echo.Context) error {
	token := c.Param("token")
	form := readRawForm(c)

	if missing := form.missingKeys(); len(missing) > 0 {
		view := form.view("Event Bot | Edit Event", "/events/edit/"+token, missing)
		return s.tmpl.renderForm(c.Response(), view)
	}

	start, end, timezone, err := form.parseDates()
	if err != nil {
		view := form.view("Event Bot | Edit Event", "/events/edit/"+token, []string{"timezone"})
		return s.tmpl.renderForm(c.Response(), view)
	}

	plaintext, linkID, err := splitToken(token)
	if err != nil {
		return err
	}

	update := domain.UpdateEvent{
		Title:       strings.TrimSpace(form.title),
		Description: strings.TrimSpace(form.description),
		StartDate:   start,
		EndDate:     end,
		Timezone:    timezone,
	}

	event, err := s.broker.RedeemEditEvent(c.Request().Context(), linkID, plaintext, update)
	if err != nil {
		return mapBrokerError(err)
	}

	s.scheduler.Edit(c.Request().Context(), *event)
	s.announceUpdated(c.Request().Context(), *event)

	return s.tmpl.renderSuccess(c.Response(), http.StatusCreated, toSuccessView("Event Bot | Updated Event", *event))
}

func (s *Server) announceNew(ctx context.Context, event domain.Event) {
	if err := s.announcer.AnnounceNewEvent(ctx, event); err != nil {
		s.log.Error("httpapi: failed to announce new event", "event_id", event.ID, "error", err)
	}
}

func (s *Server) announceUpdated(ctx context.Context, event domain.Event) {
	if err := s.announcer.AnnounceUpdatedEvent(ctx, event); err != nil {
		s.log.Error("httpapi: failed to announce updated event", "event_id", event.ID, "error", err)
	}
}

func toSuccessView(pageTitle string, event domain.Event) successView {
	var buf strings.Builder
	descHTML := template.HTML(template.HTMLEscapeString(event.Description))
	if err := goldmark.Convert([]byte(event.Description), &buf); err == nil {
		descHTML = template.HTML(buf.String())
	}

	loc, err := time.LoadLocation(event.Timezone)
	if err != nil {
		loc = time.UTC
	}
	when := event.StartDate.In(loc).Format("Monday, January 2, 2006 at 3:04 PM") + " " + event.Timezone

	return successView{
		PageTitle:       pageTitle,
		Title:           event.Title,
		DescriptionHTML: descHTML,
		When:            when,
	}
}

func mapBrokerError(err error) error {
	switch {
	case eventerr.Is(err, eventerr.Permissions):
		return echo.NewHTTPError(http.StatusForbidden, "not authorized to redeem this link")
	case eventerr.Is(err, eventerr.Frontend):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid form submission")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "could not complete request")
	}
}
