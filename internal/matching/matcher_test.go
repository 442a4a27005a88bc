package matching

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/litxtech/mytrabzon-match/internal/abuse"
	"github.com/litxtech/mytrabzon-match/internal/queue"
	"github.com/litxtech/mytrabzon-match/internal/session"
)

// fakeQueue is an in-memory queue.Store with an atomic Claim, mirroring the
// semantics of the Redis store.
type fakeQueue struct {
	mu      sync.Mutex
	entries map[string]queue.Entry

	// beforeClaim, when set, runs under the lock just before each claim
	// attempt; used to simulate a concurrent matcher stealing an entry.
	beforeClaim func(q *fakeQueue, userA, userB string)
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[string]queue.Entry)}
}

func (q *fakeQueue) Enqueue(_ context.Context, e queue.Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.JoinedAt == 0 {
		e.JoinedAt = float64(len(q.entries) + 1)
	}
	q.entries[e.UserID] = e
	return nil
}

func (q *fakeQueue) Dequeue(_ context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, userID)
	return nil
}

func (q *fakeQueue) GetActive(_ context.Context, userID string) (*queue.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[userID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (q *fakeQueue) ListCandidates(_ context.Context, excludeUserID, wantedGender string) ([]queue.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Entry
	for _, e := range q.entries {
		if e.UserID == excludeUserID || e.Gender != wantedGender {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt < out[j].JoinedAt })
	return out, nil
}

func (q *fakeQueue) Claim(_ context.Context, userA, userB string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.beforeClaim != nil {
		q.beforeClaim(q, userA, userB)
	}
	if _, ok := q.entries[userA]; !ok {
		return false, nil
	}
	if _, ok := q.entries[userB]; !ok {
		return false, nil
	}
	delete(q.entries, userA)
	delete(q.entries, userB)
	return true, nil
}

func (q *fakeQueue) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// fakeGuard restricts a fixed set of users.
type fakeGuard struct {
	restricted map[string]bool
}

func (g *fakeGuard) CheckEligibility(_ context.Context, userID string) (*abuse.Eligibility, error) {
	if g.restricted[userID] {
		return &abuse.Eligibility{Verdict: abuse.VerdictRestricted, IsRestricted: true}, nil
	}
	return &abuse.Eligibility{Verdict: abuse.VerdictEligible}, nil
}

// fakeBlocks blocks fixed unordered pairs.
type fakeBlocks struct {
	pairs map[[2]string]bool
}

func (b *fakeBlocks) Blocked(_ context.Context, userA, userB string) (bool, error) {
	if userA > userB {
		userA, userB = userB, userA
	}
	return b.pairs[[2]string{userA, userB}], nil
}

func newMatcher(q queue.Store, s session.Store) *Matcher {
	return NewMatcher(q, s, NoBlocks{}, &fakeGuard{})
}

func enq(t *testing.T, q *fakeQueue, userID, gender, city, district string, joinedAt float64) {
	t.Helper()
	if err := q.Enqueue(context.Background(), queue.Entry{
		UserID: userID, Gender: gender, City: city, District: district, JoinedAt: joinedAt,
	}); err != nil {
		t.Fatalf("enqueue %s: %v", userID, err)
	}
}

func TestOpposite(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{queue.GenderMale, queue.GenderFemale},
		{queue.GenderFemale, queue.GenderMale},
		{"", ""},
		{"nonbinary", ""},
	}
	for _, tc := range cases {
		if got := Opposite(tc.in); got != tc.want {
			t.Errorf("Opposite(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatch_UnsupportedGender(t *testing.T) {
	m := newMatcher(newFakeQueue(), session.NewMemoryStore())

	_, err := m.Match(context.Background(), Profile{UserID: "u1", Gender: "unknown"})
	if err == nil {
		t.Fatal("expected error for unsupported gender")
	}
}

func TestMatch_EmptyPool(t *testing.T) {
	q := newFakeQueue()
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 1)
	m := newMatcher(q, session.NewMemoryStore())

	sess, err := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected no match, got %+v", sess)
	}

	// Requester stays queued.
	if e, _ := q.GetActive(context.Background(), "m1"); e == nil {
		t.Error("requester should still be queued after a no-match attempt")
	}
}

func TestMatch_TierRanking(t *testing.T) {
	// Locality dominates recency: a newly joined same-district candidate
	// beats a long-waiting same-city one, which beats anyone elsewhere.
	q := newFakeQueue()
	enq(t, q, "f_any", queue.GenderFemale, "Rize", "Merkez", 1)
	enq(t, q, "f_city", queue.GenderFemale, "Trabzon", "Akcaabat", 2)
	enq(t, q, "f_district", queue.GenderFemale, "Trabzon", "Ortahisar", 3)
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 4)

	m := newMatcher(q, session.NewMemoryStore())
	sess, err := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a match")
	}
	if !sess.IsParticipant("f_district") {
		t.Errorf("expected same-district candidate, got %s/%s", sess.UserA, sess.UserB)
	}
}

func TestMatch_FIFOWithinTier(t *testing.T) {
	q := newFakeQueue()
	enq(t, q, "f_old", queue.GenderFemale, "Trabzon", "Ortahisar", 1)
	enq(t, q, "f_new", queue.GenderFemale, "Trabzon", "Ortahisar", 2)
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 3)

	m := newMatcher(q, session.NewMemoryStore())
	sess, _ := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if sess == nil || !sess.IsParticipant("f_old") {
		t.Errorf("expected oldest same-tier candidate, got %+v", sess)
	}
}

func TestMatch_SkipsBlocked(t *testing.T) {
	q := newFakeQueue()
	enq(t, q, "f1", queue.GenderFemale, "Trabzon", "Ortahisar", 1)
	enq(t, q, "f2", queue.GenderFemale, "Trabzon", "Ortahisar", 2)
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 3)

	blocks := &fakeBlocks{pairs: map[[2]string]bool{{"f1", "m1"}: true}}
	m := NewMatcher(q, session.NewMemoryStore(), blocks, &fakeGuard{})

	sess, _ := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if sess == nil || !sess.IsParticipant("f2") {
		t.Errorf("blocked candidate should be skipped, got %+v", sess)
	}
}

func TestMatch_SkipsRestricted(t *testing.T) {
	q := newFakeQueue()
	enq(t, q, "f1", queue.GenderFemale, "Trabzon", "Ortahisar", 1)
	enq(t, q, "f2", queue.GenderFemale, "Trabzon", "Ortahisar", 2)
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 3)

	guard := &fakeGuard{restricted: map[string]bool{"f1": true}}
	m := NewMatcher(q, session.NewMemoryStore(), NoBlocks{}, guard)

	sess, _ := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if sess == nil || !sess.IsParticipant("f2") {
		t.Errorf("restricted candidate should be skipped, got %+v", sess)
	}
}

func TestMatch_RetriesAfterLostClaim(t *testing.T) {
	q := newFakeQueue()
	enq(t, q, "f1", queue.GenderFemale, "Trabzon", "Ortahisar", 1)
	enq(t, q, "f2", queue.GenderFemale, "Trabzon", "Ortahisar", 2)
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 3)

	// A concurrent matcher steals f1 right before our first claim.
	stolen := false
	q.beforeClaim = func(q *fakeQueue, _, userB string) {
		if userB == "f1" && !stolen {
			stolen = true
			delete(q.entries, "f1")
		}
	}

	m := newMatcher(q, session.NewMemoryStore())
	sess, err := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if sess == nil || !sess.IsParticipant("f2") {
		t.Errorf("expected retry with next candidate after lost race, got %+v", sess)
	}
}

func TestMatch_RequesterAlreadyClaimed(t *testing.T) {
	q := newFakeQueue()
	enq(t, q, "f1", queue.GenderFemale, "Trabzon", "Ortahisar", 1)
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 2)

	// A concurrent matcher consumed the requester's own entry.
	q.beforeClaim = func(q *fakeQueue, userA, _ string) {
		delete(q.entries, userA)
	}

	m := newMatcher(q, session.NewMemoryStore())
	sess, err := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if sess != nil {
		t.Errorf("matcher without an active entry should not pair, got %+v", sess)
	}
}

func TestMatch_CreatesCanonicalChannel(t *testing.T) {
	q := newFakeQueue()
	enq(t, q, "f1", queue.GenderFemale, "Trabzon", "Ortahisar", 1)
	enq(t, q, "m1", queue.GenderMale, "Trabzon", "Ortahisar", 2)

	m := newMatcher(q, session.NewMemoryStore())
	sess, _ := m.Match(context.Background(), Profile{
		UserID: "m1", Gender: queue.GenderMale, City: "Trabzon", District: "Ortahisar",
	})
	if sess == nil {
		t.Fatal("expected a match")
	}
	if sess.Channel != session.ChannelName("m1", "f1") {
		t.Errorf("channel = %s, want canonical name", sess.Channel)
	}
}
