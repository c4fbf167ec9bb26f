package web

import (
	"fmt"

	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/util"
)

func GetWebfinger(calendarName string, database *db.DB, conf *util.AppConfig) (error, string) {

	err, cal := database.ReadCalendarByUrlName(calendarName)
	if cal == nil {
		return fmt.Errorf("calendar %q not found: %w", calendarName, err), GetWebFingerNotFound()
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "https://%s/calendars/%s"
						}
					]
				}`, cal.UrlName, conf.Conf.SslDomain,
		conf.Conf.SslDomain, cal.UrlName)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
