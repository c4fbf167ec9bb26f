package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/domain"
	"github.com/kalends/kalends/util"
)

const (
	maxDeliveryBatch    = 50
	maxDeliveryAttempts = 10
)

// retryBackoffMinutes is the delay ladder between delivery attempts. Past its
// end the last step repeats until the attempt cap.
var retryBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// DeliveryWorker POSTs signed activities to remote inboxes, retrying failures
// with increasing backoff and dropping items after the attempt cap.
type DeliveryWorker struct {
	db     *db.DB
	actors *ActorService
	client *http.Client
}

func NewDeliveryWorker(database *db.DB, actors *ActorService) *DeliveryWorker {
	return &DeliveryWorker{
		db:     database,
		actors: actors,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run polls the delivery queue until the context is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("DeliveryWorker: stopped")
			return
		case <-ticker.C:
			w.processQueue()
		}
	}
}

func (w *DeliveryWorker) processQueue() {
	err, items := w.db.ReadPendingDeliveries(maxDeliveryBatch)
	if err != nil {
		log.Printf("DeliveryWorker: failed to read queue: %v", err)
		return
	}

	for _, item := range *items {
		if err := w.deliverActivity(&item); err != nil {
			log.Printf("DeliveryWorker: delivery %s to %s failed (attempt %d): %v", item.Id, item.InboxURI, item.Attempts+1, err)
			w.recordFailure(&item)
			continue
		}
		if err := w.db.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: failed to remove delivered item %s: %v", item.Id, err)
		}
	}
}

func (w *DeliveryWorker) recordFailure(item *domain.DeliveryQueueItem) {
	attempts := item.Attempts + 1
	if attempts >= maxDeliveryAttempts {
		log.Printf("DeliveryWorker: giving up on delivery %s to %s after %d attempts", item.Id, item.InboxURI, attempts)
		if err := w.db.DeleteDelivery(item.Id); err != nil {
			log.Printf("DeliveryWorker: failed to drop delivery %s: %v", item.Id, err)
		}
		return
	}

	step := attempts - 1
	if step >= len(retryBackoffMinutes) {
		step = len(retryBackoffMinutes) - 1
	}
	nextRetry := time.Now().Add(time.Duration(retryBackoffMinutes[step]) * time.Minute)

	if err := w.db.UpdateDeliveryAttempt(item.Id, attempts, nextRetry); err != nil {
		log.Printf("DeliveryWorker: failed to record attempt for %s: %v", item.Id, err)
	}
}

// deliverActivity signs and POSTs one activity to one remote inbox. Any
// non-2xx response counts as a failure.
func (w *DeliveryWorker) deliverActivity(item *domain.DeliveryQueueItem) error {
	actor, err := w.actors.ByActorURI(item.ActorURI)
	if err != nil {
		return fmt.Errorf("sending actor gone: %w", err)
	}

	privateKey, err := ParsePrivateKey(actor.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequest("POST", item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", BodyDigest(body))

	if err := SignRequest(req, privateKey, KeyId(actor.ActorURI)); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote inbox returned status %d", resp.StatusCode)
	}
	return nil
}
