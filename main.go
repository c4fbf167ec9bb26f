package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kalends/kalends/activitypub"
	"github.com/kalends/kalends/calendar"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/util"
	"github.com/kalends/kalends/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Running database migrations...")
	database := db.GetDB()
	log.Println("Database migrations complete")

	calendars := calendar.NewService(database)
	actors := activitypub.NewActorService(database, conf.Conf.SslDomain)
	relations := activitypub.NewRelations(database)

	bootstrapCalendar(calendars, actors)

	outbox := activitypub.NewOutboxProcessor(database)
	inbox := activitypub.NewInboxProcessor(database, calendars, actors, relations, outbox, conf.Conf.SslDomain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pollInterval := time.Duration(conf.Conf.PollSeconds) * time.Second

	if conf.Conf.WithFed {
		go inbox.Run(ctx, pollInterval)
		go outbox.Run(ctx, pollInterval)

		worker := activitypub.NewDeliveryWorker(database, actors)
		go worker.Run(ctx, pollInterval)
	}

	deps := &web.Deps{
		DB:        database,
		Calendars: calendars,
		Actors:    actors,
		Relations: relations,
		Inbox:     inbox,
	}

	startServing(conf, deps, cancel)
}

// bootstrapCalendar makes sure a fresh instance has a calendar with a
// federation identity.
func bootstrapCalendar(calendars *calendar.Service, actors *activitypub.ActorService) {
	cal, err := calendars.GetCalendarByName("main")
	if err != nil {
		cal, err = calendars.CreateCalendar("Main Calendar", "main", "UTC")
		if err != nil {
			log.Fatalln(err)
		}
		log.Printf("Created default calendar: %s", cal.ToString())
	}

	if _, err := actors.ByCalendarId(cal.Id); err != nil {
		actor, err := actors.CreateActor(cal)
		if err != nil {
			log.Fatalln(err)
		}
		log.Printf("Created actor %s for calendar %s", actor.ActorURI, cal.UrlName)
	}
}

func startServing(conf *util.AppConfig, deps *web.Deps, cancel context.CancelFunc) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, deps); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
	cancel()
	// Give the processors a moment to finish the current message.
	time.Sleep(time.Second)
}
