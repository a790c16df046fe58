package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleMessages() []Message {
	return []Message{
		{MsgID: "m1", Direction: "inbound", Body: "hello there", CreatedAt: 1000},
		{MsgID: "m2", Direction: "outbound", Body: "hi, how can I help", Status: "delivered", CreatedAt: 2000},
	}
}

func TestReplaceConversationRoundTrip(t *testing.T) {
	db := testDB(t)

	conv := &Conversation{
		ContactKey: "5551234567", ContactName: "Ada", ContactID: "crm-1",
		UnreadCount: 1, LastMessageAt: 2000, LastMessagePreview: "hi, how can I help",
	}
	if err := db.ReplaceConversation(conv, sampleMessages()); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("5551234567")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ContactName != "Ada" || got.UnreadCount != 1 {
		t.Errorf("conversation = %+v", got)
	}

	msgs, err := db.AllMessages("5551234567")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MsgID != "m1" || msgs[1].MsgID != "m2" {
		t.Errorf("messages = %+v, want m1,m2 chronological", msgs)
	}
}

// Committing a send swaps the placeholder id for the server id; the
// replace semantics must not leave the old client-id row behind.
func TestReplaceConversationDropsStaleRows(t *testing.T) {
	db := testDB(t)
	conv := &Conversation{ContactKey: "5551234567", LastMessageAt: 1000}

	if err := db.ReplaceConversation(conv, []Message{
		{MsgID: "local-1", Direction: "outbound", Body: "hey", Status: "pending", CreatedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceConversation(conv, []Message{
		{MsgID: "srv-1", Direction: "outbound", Body: "hey", Status: "sent", CreatedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.AllMessages("5551234567")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "srv-1" {
		t.Errorf("messages = %+v, want single srv-1 row", msgs)
	}
}

func TestListConversationsOrdering(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceConversation(&Conversation{ContactKey: "a@x.com", LastMessageAt: 1000}, nil)
	_ = db.ReplaceConversation(&Conversation{ContactKey: "b@x.com", LastMessageAt: 3000}, nil)

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ContactKey != "b@x.com" {
		t.Errorf("convs = %+v, want newest first", convs)
	}
}

func TestDeleteConversation(t *testing.T) {
	db := testDB(t)
	conv := &Conversation{ContactKey: "5551234567", LastMessageAt: 2000}
	if err := db.ReplaceConversation(conv, sampleMessages()); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteConversation("5551234567"); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("5551234567")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("conversation still present after delete")
	}
	if n, _ := db.MessageCount(); n != 0 {
		t.Errorf("message count = %d, want 0", n)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)
	conv := &Conversation{ContactKey: "5551234567", LastMessageAt: 3000}
	if err := db.ReplaceConversation(conv, []Message{
		{MsgID: "m1", Direction: "inbound", Body: "one", CreatedAt: 1000},
		{MsgID: "m2", Direction: "inbound", Body: "two", CreatedAt: 2000},
		{MsgID: "m3", Direction: "inbound", Body: "three", CreatedAt: 3000},
	}); err != nil {
		t.Fatal(err)
	}

	page, err := db.ListMessages("5551234567", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].MsgID != "m3" {
		t.Fatalf("page = %+v, want m3,m2", page)
	}

	next, err := db.ListMessages("5551234567", page[len(page)-1].CreatedAt, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 1 || next[0].MsgID != "m1" {
		t.Errorf("next page = %+v, want m1", next)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	conv := &Conversation{ContactKey: "5551234567", LastMessageAt: 2000}
	if err := db.ReplaceConversation(conv, sampleMessages()); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "m1" {
		t.Errorf("results = %+v, want m1", results)
	}

	// Scoped to another conversation: no hits.
	results, err = db.SearchMessages("hello", "other@x.com", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
}
