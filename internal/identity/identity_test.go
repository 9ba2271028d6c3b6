package identity

import (
	"context"
	"testing"
	"time"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/store"
	"github.com/omnidesk-io/omnidesk/internal/store/sqlite"
)

func newResolver(t *testing.T) (*Resolver, store.ClientStore) {
	t.Helper()
	db, err := sqlite.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clients := sqlite.NewClientStore(db)
	return NewResolver(clients), clients
}

func inbound(channel store.Channel, nativeID, name string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    channel,
		NativeID:   nativeID,
		SenderName: name,
		Kind:       store.KindText,
		Content:    "hello",
		Timestamp:  time.Now(),
	}
}

func TestResolveCreatesChatClient(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()

	client, created, err := r.Resolve(ctx, inbound(store.ChannelWhatsApp, "33612345678", "Jean"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !created {
		t.Fatal("first contact should create")
	}
	if client.Name != "Jean" || client.Status != store.StatusNew {
		t.Errorf("client = %+v", client)
	}

	client2, created, err := r.Resolve(ctx, inbound(store.ChannelWhatsApp, "33612345678", "Jean"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if created || client2.ID != client.ID {
		t.Errorf("repeat contact must resolve to the same client (created=%v)", created)
	}
}

func TestResolveNameDefaultsToAddress(t *testing.T) {
	r, _ := newResolver(t)

	client, _, err := r.Resolve(context.Background(), inbound(store.ChannelInstagram, "ig-user-9", ""))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if client.Name != "ig-user-9" {
		t.Errorf("name = %q, want address fallback", client.Name)
	}
}

func TestResolveEnrichesPlaceholderName(t *testing.T) {
	r, clients := newResolver(t)
	ctx := context.Background()

	// First contact arrives without a profile name.
	first, _, err := r.Resolve(ctx, inbound(store.ChannelWhatsApp, "33612345678", ""))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Name != "33612345678" {
		t.Fatalf("placeholder name = %q", first.Name)
	}

	// Second contact carries the real name.
	second, _, err := r.Resolve(ctx, inbound(store.ChannelWhatsApp, "33612345678", "Jean Dupont"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.Name != "Jean Dupont" {
		t.Errorf("name = %q, want enriched", second.Name)
	}
	stored, err := clients.GetByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Name != "Jean Dupont" {
		t.Errorf("stored name = %q", stored.Name)
	}

	// A real name is never downgraded or replaced.
	third, _, err := r.Resolve(ctx, inbound(store.ChannelWhatsApp, "33612345678", "Somebody Else"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if third.Name != "Jean Dupont" {
		t.Errorf("name = %q, real names must stick", third.Name)
	}
}

func TestResolveEmailNeverCreates(t *testing.T) {
	r, clients := newResolver(t)
	ctx := context.Background()

	client, created, err := r.Resolve(ctx, inbound(store.ChannelEmail, "jean@example.com", "Jean"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if client != nil || created {
		t.Fatalf("unknown email must resolve to nil, got %+v", client)
	}

	existing, _, err := clients.GetOrCreate(ctx, store.ChannelEmail, "jean@example.com", "Jean", time.Now())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	client, created, err = r.Resolve(ctx, inbound(store.ChannelEmail, "Jean@Example.com", "Jean"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if created {
		t.Error("email resolution never creates")
	}
	if client == nil || client.ID != existing.ID {
		t.Errorf("case-insensitive match failed: %+v", client)
	}
}
