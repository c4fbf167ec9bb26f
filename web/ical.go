package web

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/util"
)

// GetICal renders a calendar's events as an iCalendar document, so regular
// calendar clients can subscribe next to federated peers.
func GetICal(conf *util.AppConfig, urlName string, database *db.DB) (string, error) {

	err, cal := database.ReadCalendarByUrlName(urlName)
	if cal == nil {
		log.Println(fmt.Sprintf("Could not find calendar %s!", urlName), err)
		return "", errors.New("error retrieving calendar")
	}

	err, events := database.ReadEventsByCalendarId(cal.Id)
	if err != nil {
		log.Println(fmt.Sprintf("Could not get events for %s!", urlName), err)
		return "", errors.New("error retrieving events")
	}

	icsCal := ical.NewCalendar()
	icsCal.Props.SetText(ical.PropVersion, "2.0")
	icsCal.Props.SetText(ical.PropProductID, fmt.Sprintf("-//%s//EN", util.GetNameAndVersion()))

	for _, ev := range *events {
		icsEvent := ical.NewEvent()
		icsEvent.Props.SetText(ical.PropUID, fmt.Sprintf("%s@%s", ev.Id, conf.Conf.SslDomain))
		icsEvent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now())
		icsEvent.Props.SetDateTime(ical.PropDateTimeStart, ev.StartsAt)
		if !ev.EndsAt.IsZero() {
			icsEvent.Props.SetDateTime(ical.PropDateTimeEnd, ev.EndsAt)
		}
		icsEvent.Props.SetText(ical.PropSummary, ev.Summary)
		if ev.Description != "" {
			icsEvent.Props.SetText(ical.PropDescription, ev.Description)
		}
		if ev.Location != "" {
			icsEvent.Props.SetText(ical.PropLocation, ev.Location)
		}
		icsCal.Children = append(icsCal.Children, icsEvent.Component)
	}

	var buf strings.Builder
	if err := ical.NewEncoder(&buf).Encode(icsCal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}

	return buf.String(), nil
}
