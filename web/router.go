package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"github.com/kalends/kalends/activitypub"
	"github.com/kalends/kalends/calendar"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/util"
	"golang.org/x/time/rate"
)

// Deps bundles the services the web layer dispatches into.
type Deps struct {
	DB        *db.DB
	Calendars *calendar.Service
	Actors    *activitypub.ActorService
	Relations *activitypub.Relations
	Inbox     *activitypub.InboxProcessor
}

func Router(conf *util.AppConfig, deps *Deps) error {
	log.Printf("Starting calendar server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS feed per calendar
	g.GET("/feed/:name", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(conf, c.Param("name"), deps.DB)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	// iCalendar export per calendar
	g.GET("/ical/:name", func(c *gin.Context) {
		c.Header("Content-Type", "text/calendar; charset=utf-8")
		ics, err := GetICal(conf, c.Param("name"), deps.DB)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: ics})
		}
	})

	// Federation endpoints
	if conf.Conf.WithFed {
		// Stricter rate limit for federation endpoints: 5 req/sec per IP
		fedLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024) // 1MB

		// Serve individual events as ActivityPub objects
		g.GET("/events/:id", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")

			eventId, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(404, gin.H{"error": "Invalid event ID"})
				return
			}

			err, obj := GetEventObject(eventId, deps.DB, conf)
			if err != nil {
				c.JSON(404, gin.H{"error": "Event not found"})
			} else {
				c.Render(200, render.String{Format: obj})
			}
		})

		g.GET("/calendars/:name", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := GetActor(c.Param("name"), deps.DB, conf)
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
		})

		g.POST("/calendars/:name/inbox", RateLimitMiddleware(fedLimiter), maxBodySize, func(c *gin.Context) {
			name := c.Param("name")
			log.Printf("POST /calendars/%s/inbox", name)
			HandleInbox(c, name, deps)
		})

		g.GET("/calendars/:name/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/calendars/:name/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, collection := GetFollowersCollection(c.Param("name"), deps.DB, conf)
			if err != nil {
				c.Render(404, render.String{Format: collection})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/calendars/:name/following", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				resource = strings.TrimPrefix(resource, "acct:")
				resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
				err, resp := GetWebfinger(resource, deps.DB, conf)
				if err != nil {
					c.Render(404, render.String{Format: GetWebFingerNotFound()})
				} else {
					c.Render(200, render.String{Format: resp})
				}
			}
		})
	}

	err := g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
	if err != nil {
		return err
	}
	return nil
}
