// Concurrency tests for the acceptance protocol (run with -race).
package offer_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"towlink/internal/modules/offer"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/types"
)

func TestConcurrentAcceptSameRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)

	const competitors = 8
	offerIDs := make([]types.ID, competitors)
	for i := range offerIDs {
		pid := f.seedProvider(t, provider.VerificationApproved)
		offerIDs[i] = f.submitOffer(t, r.ID, pid, 5000).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, competitors)
	for _, id := range offerIDs {
		wg.Add(1)
		go func(offerID types.ID) {
			defer wg.Done()
			_, err := f.offers.Accept(ctx, r.ID, offerID)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, offer.ErrAlreadyResolved) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}

	// Exactly one accepted offer; every other offer is declined.
	list, err := f.offers.ListByRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	var accepted, declined int
	for _, o := range list {
		switch o.Status {
		case offer.StatusAccepted:
			accepted++
		case offer.StatusDeclined:
			declined++
		default:
			t.Fatalf("unexpected offer status %s", o.Status)
		}
	}
	if accepted != 1 || declined != competitors-1 {
		t.Fatalf("accepted=%d declined=%d", accepted, declined)
	}

	got, err := f.requests.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != request.StatusAccepted {
		t.Fatalf("request status = %s", got.Status)
	}
	if got.JobID == nil {
		t.Fatal("expected a job on the request")
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)
	pid := f.seedProvider(t, provider.VerificationApproved)
	o := f.submitOffer(t, r.ID, pid, 5000)

	var wg sync.WaitGroup
	acceptErr := make(chan error, 1)
	cancelErr := make(chan error, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.offers.Accept(ctx, r.ID, o.ID)
		acceptErr <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.requests.Cancel(ctx, r.ID)
		cancelErr <- err
	}()
	wg.Wait()

	aErr, cErr := <-acceptErr, <-cancelErr

	got, err := f.requests.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	switch {
	case aErr == nil && cErr != nil:
		if got.Status != request.StatusAccepted {
			t.Fatalf("accept won but request is %s", got.Status)
		}
	case aErr != nil && cErr == nil:
		if got.Status != request.StatusCancelled {
			t.Fatalf("cancel won but request is %s", got.Status)
		}
		if !errors.Is(aErr, offer.ErrAlreadyResolved) {
			t.Fatalf("loser error = %v", aErr)
		}
	default:
		t.Fatalf("expected exactly one winner, accept=%v cancel=%v", aErr, cErr)
	}
}
