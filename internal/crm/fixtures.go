package crm

import "time"

// DemoData returns a small fixture CRM for local runs: a handful of
// accounts with obvious duplicate pairs and some email activity.
func DemoData() ([]Contact, map[string][]Activity) {
	now := time.Now()
	contacts := []Contact{
		{ID: "003A1", FirstName: "Benjamin", LastName: "Fry", Email: "ben.fry@acme.com", Phone: "555-0100", Title: "VP Sales", AccountID: "001A", AccountName: "Acme Corp", OwnerID: "005X"},
		{ID: "003A2", FirstName: "Ben", LastName: "Fry", Email: "bfry@acme.com", AccountID: "001A", AccountName: "Acme Corp", OwnerID: "005X"},
		{ID: "003A3", FirstName: "Dana", LastName: "Whitfield", Email: "dana@acme.com", Phone: "555-0101", AccountID: "001A", AccountName: "Acme Corp", OwnerID: "005X"},
		{ID: "003B1", FirstName: "Katherine", LastName: "Ellis", Email: "kellis@globex.com", Phone: "555-0200", Title: "CTO", AccountID: "001B", AccountName: "Globex", OwnerID: "005Y"},
		{ID: "003B2", FirstName: "Kate", LastName: "Ellis", Email: "kate.ellis@globex.com", AccountID: "001B", AccountName: "Globex", OwnerID: "005Y"},
		{ID: "003C1", FirstName: "Marcus", LastName: "Oduya", Email: "m.oduya@initech.io", AccountID: "001C", AccountName: "Initech", OwnerID: "005Y"},
	}
	activities := map[string][]Activity{
		"003A2": {{Type: "Email", Status: "Bounced", Description: "delivery failed: mailbox unavailable", Date: now.AddDate(0, -1, 0)}},
		"003A3": {{Type: "Email", Status: "Sent", Subject: "Q3 follow-up", Date: now.AddDate(0, 0, -7)}},
		"003B1": {{Type: "Email", Status: "Delivered", Subject: "Renewal", Date: now.AddDate(0, 0, -3)}},
	}
	return contacts, activities
}
