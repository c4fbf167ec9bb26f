package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/domain"
	"github.com/kalends/kalends/util"
)

// ActorResponse represents the JSON structure of a remote actor document
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Inbox             string      `json:"inbox"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// ActorURI derives the actor URI for a calendar routing name.
func ActorURI(domain string, urlName string) string {
	return fmt.Sprintf("https://%s/calendars/%s", domain, urlName)
}

// ActorService owns the per-calendar keypairs. Private keys never leave it:
// callers get signatures, not keys.
type ActorService struct {
	db     *db.DB
	domain string
}

func NewActorService(database *db.DB, domain string) *ActorService {
	return &ActorService{db: database, domain: domain}
}

// CreateActor generates a keypair and actor identity for a local calendar.
// Fails if the calendar already has one.
func (s *ActorService) CreateActor(cal *domain.Calendar) (*domain.CalendarActor, error) {
	if _, existing := s.db.ReadActorByCalendarId(cal.Id); existing != nil {
		return nil, fmt.Errorf("calendar %s already has an actor", cal.Id)
	}

	keypair := util.GeneratePemKeypair()
	actor := &domain.CalendarActor{
		Id:            uuid.New(),
		CalendarId:    cal.Id,
		ActorURI:      ActorURI(s.domain, cal.UrlName),
		PublicKeyPem:  keypair.Public,
		PrivateKeyPem: keypair.Private,
		CreatedAt:     time.Now(),
	}

	if err := s.db.CreateCalendarActor(actor); err != nil {
		return nil, fmt.Errorf("failed to store actor: %w", err)
	}

	return actor, nil
}

func (s *ActorService) ByUrlName(urlName string) (*domain.CalendarActor, error) {
	err, actor := s.db.ReadActorByUrlName(urlName)
	if actor == nil {
		return nil, fmt.Errorf("no actor for calendar %q: %w", urlName, err)
	}
	return actor, nil
}

func (s *ActorService) ByCalendarId(calendarId uuid.UUID) (*domain.CalendarActor, error) {
	err, actor := s.db.ReadActorByCalendarId(calendarId)
	if actor == nil {
		return nil, fmt.Errorf("no actor for calendar %s: %w", calendarId, err)
	}
	return actor, nil
}

func (s *ActorService) ByActorURI(actorURI string) (*domain.CalendarActor, error) {
	err, actor := s.db.ReadActorByURI(actorURI)
	if actor == nil {
		return nil, fmt.Errorf("no actor %q: %w", actorURI, err)
	}
	return actor, nil
}

// Sign produces an HTTP signature for an activity body addressed to
// targetURL, using the actor's private key. Fails if no actor exists for the
// given URI.
func (s *ActorService) Sign(actorURI string, activityBody []byte, targetURL string) (*Signature, error) {
	actor, err := s.ByActorURI(actorURI)
	if err != nil {
		return nil, err
	}

	privateKey, err := ParsePrivateKey(actor.PrivateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	date := time.Now().UTC().Format(http.TimeFormat)
	return Sign(privateKey, KeyId(actorURI), activityBody, targetURL, date)
}

// VerifyRequest checks an inbound request's signature against the claimed
// actor. The key is resolved from the local actor table or the remote
// calendar cache; false on any malformed input, mismatch or unknown actor.
func (s *ActorService) VerifyRequest(req *http.Request, claimedActorURI string) bool {
	if claimedActorURI == "" {
		return false
	}

	header := req.Header.Get("Signature")
	if header == "" {
		return false
	}
	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return false
	}
	// The signing key must belong to the actor the activity claims.
	if ActorFromKeyId(sig.KeyID) != claimedActorURI {
		return false
	}

	publicKeyPem := ""
	if _, local := s.db.ReadActorByURI(claimedActorURI); local != nil {
		publicKeyPem = local.PublicKeyPem
	} else if _, remote := s.db.ReadRemoteCalendarByURI(claimedActorURI); remote != nil {
		publicKeyPem = remote.PublicKeyPem
	} else {
		return false
	}

	return VerifyRequest(req, publicKeyPem)
}

// FetchRemoteCalendar fetches a remote actor document and maps it to a
// RemoteCalendar record. The caller decides whether to persist it.
func FetchRemoteCalendar(actorURI string) (*domain.RemoteCalendar, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	name := actor.PreferredUsername
	if name == "" {
		name = actor.Name
	}

	return &domain.RemoteCalendar{
		Id:            uuid.New(),
		Name:          name,
		Domain:        domainName,
		ActorURI:      actor.ID,
		InboxURI:      actor.Inbox,
		PublicKeyPem:  actor.PublicKey.PublicKeyPem,
		LastFetchedAt: time.Now(),
	}, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://cal.example.org/calendars/team" -> "cal.example.org"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}
