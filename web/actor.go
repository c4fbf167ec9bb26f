package web

import (
	"encoding/json"
	"fmt"

	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/util"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	following
)

// GetActor renders the ActivityPub actor document for a local calendar.
func GetActor(urlName string, database *db.DB, conf *util.AppConfig) (error, string) {
	err, cal := database.ReadCalendarByUrlName(urlName)
	if cal == nil {
		return fmt.Errorf("calendar %q not found: %w", urlName, err), "{}"
	}

	err, actor := database.ReadActorByCalendarId(cal.Id)
	if actor == nil {
		return fmt.Errorf("calendar %q has no actor: %w", urlName, err), "{}"
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                actor.ActorURI,
		"type":              "Service",
		"preferredUsername": cal.UrlName,
		"name":              cal.Name,
		"inbox":             getIRI(conf.Conf.SslDomain, cal.UrlName, inbox),
		"outbox":            getIRI(conf.Conf.SslDomain, cal.UrlName, outbox),
		"followers":         getIRI(conf.Conf.SslDomain, cal.UrlName, followers),
		"following":         getIRI(conf.Conf.SslDomain, cal.UrlName, following),
		"url":               actor.ActorURI,
		"publicKey": map[string]interface{}{
			"id":           actor.ActorURI + "#main-key",
			"owner":        actor.ActorURI,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}

	return nil, string(jsonBytes)
}

func getIRI(domain string, urlName string, action action) string {
	prefix := fmt.Sprintf("https://%s/calendars/%s", domain, urlName)
	switch action {
	case inbox:
		return fmt.Sprintf("%s/inbox", prefix)
	case outbox:
		return fmt.Sprintf("%s/outbox", prefix)
	case followers:
		return fmt.Sprintf("%s/followers", prefix)
	case following:
		return fmt.Sprintf("%s/following", prefix)
	case id:
		return prefix
	default:
		return ""
	}
}

// GetFollowersCollection renders the follower collection for a calendar.
func GetFollowersCollection(urlName string, database *db.DB, conf *util.AppConfig) (error, string) {
	err, cal := database.ReadCalendarByUrlName(urlName)
	if cal == nil {
		return fmt.Errorf("calendar %q not found: %w", urlName, err), "{}"
	}

	var items []string
	err, edges := database.ReadFollowerEdgesByCalendarId(cal.Id)
	if err == nil && edges != nil {
		for _, edge := range *edges {
			_, remote := database.ReadRemoteCalendarById(edge.RemoteCalendarId)
			if remote != nil {
				items = append(items, remote.ActorURI)
			}
		}
	}

	doc := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         getIRI(conf.Conf.SslDomain, cal.UrlName, followers),
		"type":       "OrderedCollection",
		"totalItems": len(items),
		"orderedItems": func() []string {
			if items == nil {
				return []string{}
			}
			return items
		}(),
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}

	return nil, string(jsonBytes)
}
