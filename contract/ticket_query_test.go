package contract

import (
	"fmt"
	"testing"

	"nexkey/model"
)

func TestGetEventTicketsAuthorization(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)
	inspector := f.env.registerParticipant(f.admin, "inspector1", "inspector")
	f.purchase(t, f.alice, f.didID, "A-1", 10.0)

	// Inspector, organizer of record and admin may list; the buyer may not.
	for _, allowed := range []*mockClientIdentity{inspector, f.organizer, f.admin} {
		if _, err := f.env.sc.GetEventTickets(f.env.as(allowed), f.eventID, "10", ""); err != nil {
			t.Fatalf("GetEventTickets as %q: %v", allowed.id, err)
		}
	}
	_, err := f.env.sc.GetEventTickets(f.env.as(f.alice), f.eventID, "10", "")
	wantErrIs(t, err, ErrUnauthorized)
}

func TestGetEventTicketsPagination(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)
	minted := map[uint64]bool{}
	for i := 0; i < 5; i++ {
		receipt := f.purchase(t, f.alice, f.didID, fmt.Sprintf("A-%d", i+1), 10.0)
		minted[receipt.TicketID] = true
	}

	seen := map[uint64]bool{}
	bookmark := ""
	pages := 0
	for {
		page, err := f.env.sc.GetEventTickets(f.env.as(f.organizer), f.eventID, "2", bookmark)
		if err != nil {
			t.Fatalf("GetEventTickets page %d: %v", pages+1, err)
		}
		for _, ticket := range page.Tickets {
			if seen[ticket.ID] {
				t.Fatalf("ticket %d returned on two pages", ticket.ID)
			}
			seen[ticket.ID] = true
		}
		pages++
		if page.NextBookmark == "" {
			break
		}
		bookmark = page.NextBookmark
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(seen) != len(minted) {
		t.Fatalf("pagination returned %d tickets, want %d", len(seen), len(minted))
	}
	for id := range minted {
		if !seen[id] {
			t.Fatalf("ticket %d missing from paginated listing", id)
		}
	}
}

func TestGetEventTicketsScopedToEvent(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)
	otherEvent := f.env.createEvent(t, f.organizer, "Second Night", 10, 5.0)

	f.purchase(t, f.alice, f.didID, "A-1", 10.0)
	other, err := f.env.sc.PurchaseTicket(f.env.as(f.alice), otherEvent, f.didID, "B-1", 5.0)
	if err != nil {
		t.Fatalf("purchase for second event: %v", err)
	}

	page, err := f.env.sc.GetEventTickets(f.env.as(f.organizer), otherEvent, "10", "")
	if err != nil {
		t.Fatalf("GetEventTickets: %v", err)
	}
	if len(page.Tickets) != 1 || page.Tickets[0].ID != other.TicketID {
		t.Fatalf("second event listing = %+v, want only ticket %d", page.Tickets, other.TicketID)
	}
}

func TestGetTicketHistoryTracksLifecycle(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)
	inspector := f.env.registerParticipant(f.admin, "inspector1", "inspector")
	receipt := f.purchase(t, f.alice, f.didID, "A-1", 10.0)

	if err := f.env.sc.UseTicket(f.env.as(inspector), receipt.TicketID, receipt.QRCodeHash); err != nil {
		t.Fatalf("UseTicket: %v", err)
	}

	entries, err := f.env.sc.GetTicketHistory(f.env.as(f.admin), receipt.TicketID)
	if err != nil {
		t.Fatalf("GetTicketHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2 (mint and redemption)", len(entries))
	}

	statuses := map[model.TicketStatus]bool{}
	for _, entry := range entries {
		if entry.TxID == "" {
			t.Fatal("history entry missing transaction ID")
		}
		if entry.Timestamp.IsZero() {
			t.Fatal("history entry missing timestamp")
		}
		statuses[entry.Status] = true
	}
	if !statuses[model.TicketStatusSold] || !statuses[model.TicketStatusUsed] {
		t.Fatalf("history statuses = %v, want SOLD and USED", statuses)
	}
}

func TestGetTicketHistoryMissingTicket(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)

	_, err := f.env.sc.GetTicketHistory(f.env.as(f.admin), 99)
	wantErrIs(t, err, ErrNotFound)
}

func TestGetUserTicketsUnknownPrincipal(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)

	if _, err := f.env.sc.GetUserTickets(f.env.as(f.admin), "nobody"); err == nil {
		t.Fatal("GetUserTickets for unknown principal should fail")
	}
}

func TestGetDIDTicketsMissingDID(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)

	_, err := f.env.sc.GetDIDTickets(f.env.as(f.admin), 42)
	wantErrIs(t, err, ErrNotFound)
}

func TestTotalCountersAcrossLifecycle(t *testing.T) {
	f := seedTicketing(t, 10, 10.0)
	receipt := f.purchase(t, f.alice, f.didID, "A-1", 10.0)

	if err := f.env.sc.CancelTicket(f.env.as(f.organizer), receipt.TicketID, "refunded"); err != nil {
		t.Fatalf("CancelTicket: %v", err)
	}

	// Counters track mints, not live tickets.
	total, err := f.env.sc.GetTotalTickets(f.env.as(f.admin))
	if err != nil {
		t.Fatalf("GetTotalTickets: %v", err)
	}
	if total != 1 {
		t.Fatalf("GetTotalTickets = %d, want 1", total)
	}
}
