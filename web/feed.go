package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/feeds"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/util"
)

// GetRSS renders a calendar's upcoming events as an RSS feed.
func GetRSS(conf *util.AppConfig, urlName string, database *db.DB) (string, error) {

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

	link := fmt.Sprintf("https://%s/feed/%s", conf.Conf.SslDomain, cal.UrlName)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Kalends Events - %s", cal.Name),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("event feed for calendar %s", cal.Name),
		Author:      &feeds.Author{Name: cal.Name, Email: fmt.Sprintf("%s@kalends", cal.UrlName)},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, ev := range *events {
		feedItems = append(feedItems,
			&feeds.Item{
				Id:          ev.Id.String(),
				Title:       fmt.Sprintf("%s (%s)", ev.Summary, ev.StartsAt.Format(util.DateTimeFormat())),
				Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/events/%s", conf.Conf.SslDomain, ev.Id)},
				Content:     ev.Description,
				Author:      &feeds.Author{Name: cal.Name, Email: fmt.Sprintf("%s@kalends", cal.UrlName)},
				Created:     ev.CreatedAt,
				Updated:     ev.UpdatedAt,
				Description: ev.Location,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
