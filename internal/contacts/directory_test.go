package contacts

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/testutil"
	apperrors "whatsapp-automation/pkg/errors"
)

func TestComputeSegment(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) *time.Time {
		ts := now.Add(-time.Duration(d) * 24 * time.Hour)
		return &ts
	}

	cases := []struct {
		name    string
		contact models.Contact
		want    models.Segment
	}{
		{"blocked wins over VIP", models.Contact{IsBlocked: true, TotalOrders: 10}, models.SegmentBlocked},
		{"no orders", models.Contact{}, models.SegmentProspect},
		{"first order", models.Contact{TotalOrders: 1, LastOrderAt: daysAgo(90)}, models.SegmentNew},
		{"five orders", models.Contact{TotalOrders: 5, LastOrderAt: daysAgo(200)}, models.SegmentVIP},
		{"big spender", models.Contact{TotalOrders: 2, TotalSpent: 50000, LastOrderAt: daysAgo(2)}, models.SegmentVIP},
		{"quiet for 31 days", models.Contact{TotalOrders: 2, TotalSpent: 12000, LastOrderAt: daysAgo(31)}, models.SegmentInactive},
		{"exactly 30 days is regular", models.Contact{TotalOrders: 3, LastOrderAt: daysAgo(30)}, models.SegmentRegular},
		{"orders without date", models.Contact{TotalOrders: 2}, models.SegmentInactive},
		{"recent repeat customer", models.Contact{TotalOrders: 3, TotalSpent: 30000, LastOrderAt: daysAgo(3)}, models.SegmentRegular},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ComputeSegment(c.contact, now, DefaultVIPThreshold); got != c.want {
				t.Fatalf("ComputeSegment = %s, want %s", got, c.want)
			}
		})
	}
}

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	return NewDirectory(testutil.NewDB(t), DefaultVIPThreshold, testutil.Logger())
}

func TestUpsertCreatesThenCounts(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	jid := "22670000000@s.whatsapp.net"

	c, err := d.Upsert(ctx, UpsertInput{JID: jid, PushName: "Awa"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if c.MessageCount != 1 || c.Phone != "22670000000" || c.Segment != models.SegmentProspect {
		t.Fatalf("created contact = %+v", c)
	}

	c, err = d.Upsert(ctx, UpsertInput{JID: jid, PushName: "Awa T."})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if c.MessageCount != 2 || c.PushName != "Awa T." {
		t.Fatalf("updated contact = %+v", c)
	}

	if _, err := d.Upsert(ctx, UpsertInput{}); !errors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("empty jid err = %v", err)
	}
}

func TestRecordOrderMovesSegments(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	jid := "22670000001@s.whatsapp.net"
	if _, err := d.Ensure(ctx, jid, "Moussa"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	at := time.Now().UTC()
	c, err := d.RecordOrder(ctx, jid, 15000, at)
	if err != nil {
		t.Fatalf("record order: %v", err)
	}
	if c.Segment != models.SegmentNew || c.TotalOrders != 1 {
		t.Fatalf("after first order: %+v", c)
	}

	c, _ = d.RecordOrder(ctx, jid, 15000, at)
	if c.Segment != models.SegmentRegular {
		t.Fatalf("after second order segment = %s", c.Segment)
	}

	c, _ = d.RecordOrder(ctx, jid, 25000, at)
	if c.Segment != models.SegmentVIP || c.TotalSpent != 55000 {
		t.Fatalf("after spending 55000: %+v", c)
	}

	if _, err := d.RecordOrder(ctx, "nobody@s.whatsapp.net", 1, at); !errors.Is(err, apperrors.ContactNotFound) {
		t.Fatalf("unknown contact err = %v", err)
	}
}

func TestRecalculateAllUsesClock(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	jid := "22670000002@s.whatsapp.net"
	d.Ensure(ctx, jid, "")
	d.RecordOrder(ctx, jid, 1000, time.Now().UTC())
	d.RecordOrder(ctx, jid, 1000, time.Now().UTC())

	d.now = func() time.Time { return time.Now().UTC().Add(45 * 24 * time.Hour) }
	changed, err := d.RecalculateAll(ctx)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	c, _ := d.Get(ctx, jid)
	if c.Segment != models.SegmentInactive {
		t.Fatalf("segment = %s, want INACTIVE", c.Segment)
	}
}

func TestBlockingAndTags(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	jid := "22670000003@s.whatsapp.net"
	d.Ensure(ctx, jid, "Fatou")

	blocked := true
	c, err := d.Update(ctx, jid, UpdateInput{IsBlocked: &blocked})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if c.Segment != models.SegmentBlocked {
		t.Fatalf("segment = %s, want BLOCKED", c.Segment)
	}

	c, _ = d.AddTags(ctx, jid, []string{"gateau", "mariage", "gateau"})
	if len(c.Tags) != 2 {
		t.Fatalf("tags = %v", c.Tags)
	}
	c, _ = d.RemoveTags(ctx, jid, []string{"gateau"})
	if len(c.Tags) != 1 || c.Tags[0] != "mariage" {
		t.Fatalf("tags after remove = %v", c.Tags)
	}

	list, total, err := d.List(ctx, ListFilter{Tag: "mariage"})
	if err != nil || total != 1 || len(list) != 1 {
		t.Fatalf("list by tag: total=%d err=%v", total, err)
	}

	stats, err := d.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Blocked != 1 || stats.BySegment[models.SegmentBlocked] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestStatsReportsQueryErrors(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	if _, err := d.Upsert(ctx, UpsertInput{JID: "22670000000@s.whatsapp.net", PushName: "Awa"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := d.db.Exec("ALTER TABLE whatsapp_contacts RENAME COLUMN is_favorite TO favorite").Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}
	if _, err := d.Stats(ctx); err == nil {
		t.Fatal("stats succeeded with a broken favorite column")
	}
}
