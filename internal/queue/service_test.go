package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/request-queue-system/internal/notify"
	"github.com/request-queue-system/pkg/database"
	"github.com/request-queue-system/pkg/models"
)

// memStore is an in-memory Store honoring the same contract as the MySQL
// implementation: ListActive returns pre-sorted snapshots, missing rows
// surface database.ErrNotFound, and reads hand out copies so a caller
// mutating a request does not silently change the store.
type memStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.Request
	order    map[uuid.UUID]int // insertion sequence, tie-break after createdAt
	counters map[uuid.UUID]int
	seq      int

	failCreate bool
}

func newMemStore() *memStore {
	return &memStore{
		requests: make(map[uuid.UUID]*models.Request),
		order:    make(map[uuid.UUID]int),
		counters: make(map[uuid.UUID]int),
	}
}

func (s *memStore) CreateRequest(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errors.New("store unavailable")
	}
	cp := *req
	s.seq++
	s.requests[req.ID] = &cp
	s.order[req.ID] = s.seq
	return nil
}

func (s *memStore) GetRequest(_ context.Context, eventID, requestID uuid.UUID) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok || r.EventID != eventID {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListActive(_ context.Context, eventID uuid.UUID, kind models.RequestKind) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*models.Request
	for _, r := range s.requests {
		if r.EventID == eventID && r.Kind == kind && models.IsActive(kind, r.Status) {
			cp := *r
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if kind == models.KindKaraoke {
			return a.QueuePosition < b.QueuePosition
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return s.order[a.ID] < s.order[b.ID]
	})
	return items, nil
}

func (s *memStore) ListHistory(_ context.Context, eventID uuid.UUID, kind models.RequestKind) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*models.Request
	for _, r := range s.requests {
		if r.EventID == eventID && r.Kind == kind && !models.IsActive(kind, r.Status) {
			cp := *r
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (s *memStore) SaveRequest(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return database.ErrNotFound
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memStore) DeleteRequest(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, req.ID)
	return nil
}

func (s *memStore) SetPositions(_ context.Context, eventID uuid.UUID, positions map[uuid.UUID]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pos := range positions {
		r, ok := s.requests[id]
		if !ok || r.EventID != eventID {
			return database.ErrNotFound
		}
		r.QueuePosition = pos
	}
	return nil
}

func (s *memStore) NextTurnNumber(_ context.Context, eventID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[eventID]++
	return s.counters[eventID], nil
}

// memCooldown implements lazy expiry against an adjustable clock.
type memCooldown struct {
	mu    sync.Mutex
	now   func() time.Time
	until map[string]time.Time
}

func newMemCooldown(now func() time.Time) *memCooldown {
	return &memCooldown{now: now, until: make(map[string]time.Time)}
}

func cooldownTestKey(eventID, guestID uuid.UUID, module models.RequestKind) string {
	return fmt.Sprintf("%s:%s:%s", eventID, module, guestID)
}

func (c *memCooldown) CheckAndReserve(_ context.Context, eventID, guestID uuid.UUID, module models.RequestKind, cooldown time.Duration) (time.Duration, error) {
	if cooldown <= 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownTestKey(eventID, guestID, module)
	now := c.now()
	if until, ok := c.until[key]; ok && until.After(now) {
		return until.Sub(now), nil
	}
	c.until[key] = now.Add(cooldown)
	return 0, nil
}

func (c *memCooldown) Release(_ context.Context, eventID, guestID uuid.UUID, module models.RequestKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.until, cooldownTestKey(eventID, guestID, module))
	return nil
}

type staticConfigs map[models.RequestKind]*models.ModuleConfig

func (c staticConfigs) ModuleConfig(_ context.Context, _ uuid.UUID, module models.RequestKind) (*models.ModuleConfig, error) {
	cfg, ok := c[module]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cfg, nil
}

type fixture struct {
	svc     *Service
	store   *memStore
	configs staticConfigs
	clock   *fakeClock
	changes <-chan notify.ChangeEvent
	eventID uuid.UUID
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, cooldownSeconds int) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Now()}
	store := newMemStore()
	configs := staticConfigs{
		models.KindSong:    {Enabled: true, CooldownSeconds: cooldownSeconds},
		models.KindKaraoke: {Enabled: true, CooldownSeconds: cooldownSeconds},
	}
	notifier := notify.New(nil)
	t.Cleanup(notifier.Close)

	eventID := uuid.New()
	changes, cancel := notifier.Subscribe(eventID)
	t.Cleanup(cancel)

	return &fixture{
		svc:     NewService(store, newMemCooldown(clock.Now), configs, notifier),
		store:   store,
		configs: configs,
		clock:   clock,
		changes: changes,
		eventID: eventID,
	}
}

func waitChange(t *testing.T, ch <-chan notify.ChangeEvent) notify.ChangeEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for change event")
		return notify.ChangeEvent{}
	}
}

func expectNoChange(t *testing.T, ch <-chan notify.ChangeEvent) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected change event %s seq=%d", evt.Type, evt.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func track(title string) models.TrackRef {
	return models.TrackRef{Title: title, Artist: "Test Artist"}
}

func (f *fixture) submitKaraoke(t *testing.T, guestID uuid.UUID, title string) *models.Request {
	t.Helper()
	req, err := f.svc.SubmitRequest(context.Background(), f.eventID, guestID, models.KindKaraoke, track(title))
	if err != nil {
		t.Fatalf("submit %q: %v", title, err)
	}
	evt := waitChange(t, f.changes)
	if evt.Type != notify.RequestCreated {
		t.Fatalf("expected RequestCreated, got %s", evt.Type)
	}
	return req
}

func (f *fixture) assertDense(t *testing.T) []*models.Request {
	t.Helper()
	active, err := f.svc.ListQueue(context.Background(), f.eventID, models.KindKaraoke, FilterActive)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	for i, r := range active {
		if r.QueuePosition != i {
			t.Fatalf("position not dense at rank %d: got %d (queue: %v)", i, r.QueuePosition, positionsOf(active))
		}
	}
	return active
}

func positionsOf(items []*models.Request) []int {
	out := make([]int, len(items))
	for i, r := range items {
		out[i] = r.QueuePosition
	}
	return out
}

func TestKaraokeEndToEnd(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	g1, g2 := uuid.New(), uuid.New()

	r1 := f.submitKaraoke(t, g1, "Bohemian Rhapsody")
	if r1.TurnNumber != 1 || r1.QueuePosition != 0 || r1.Status != models.StatusQueued {
		t.Fatalf("r1: turn=%d pos=%d status=%s", r1.TurnNumber, r1.QueuePosition, r1.Status)
	}

	r2 := f.submitKaraoke(t, g2, "Livin' on a Prayer")
	if r2.TurnNumber != 2 || r2.QueuePosition != 1 {
		t.Fatalf("r2: turn=%d pos=%d", r2.TurnNumber, r2.QueuePosition)
	}

	called, err := f.svc.UpdateStatus(ctx, f.eventID, r1.ID, models.StatusCalled)
	if err != nil {
		t.Fatalf("call r1: %v", err)
	}
	if called.CalledAt == nil {
		t.Fatalf("CalledAt not stamped")
	}
	if called.QueuePosition != 0 {
		t.Fatalf("calling must not move the request, pos=%d", called.QueuePosition)
	}
	if evt := waitChange(t, f.changes); evt.Type != notify.RequestUpdated {
		t.Fatalf("expected RequestUpdated, got %s", evt.Type)
	}

	if err := f.svc.DeleteRequest(ctx, f.eventID, r1.ID); err != nil {
		t.Fatalf("delete r1: %v", err)
	}
	evt := waitChange(t, f.changes)
	if evt.Type != notify.RequestDeleted {
		t.Fatalf("expected RequestDeleted, got %s", evt.Type)
	}
	ids := evt.OrderedIDs()
	if len(ids) != 1 || ids[0] != r2.ID {
		t.Fatalf("removal event must carry the new order, got %v", ids)
	}

	active := f.assertDense(t)
	if len(active) != 1 || active[0].ID != r2.ID || active[0].QueuePosition != 0 {
		t.Fatalf("r2 should now lead at position 0")
	}
}

func TestTurnNumbersStrictlyIncreasingAcrossDeletions(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	var reqs []*models.Request
	for i := 0; i < 3; i++ {
		reqs = append(reqs, f.submitKaraoke(t, uuid.New(), fmt.Sprintf("Song %d", i)))
	}
	for _, r := range reqs {
		if err := f.svc.DeleteRequest(ctx, f.eventID, r.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		waitChange(t, f.changes)
	}

	again := f.submitKaraoke(t, uuid.New(), "Encore")
	if again.TurnNumber != 4 {
		t.Fatalf("turn numbers must not be reused: got %d, want 4", again.TurnNumber)
	}
	if again.QueuePosition != 0 {
		t.Fatalf("empty queue should restart positions at 0, got %d", again.QueuePosition)
	}
}

func TestKaraokePositionsStayDense(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	var reqs []*models.Request
	for i := 0; i < 4; i++ {
		reqs = append(reqs, f.submitKaraoke(t, uuid.New(), fmt.Sprintf("Song %d", i)))
		f.assertDense(t)
	}

	// Delete from the middle.
	if err := f.svc.DeleteRequest(ctx, f.eventID, reqs[1].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitChange(t, f.changes)
	f.assertDense(t)

	// Terminal transition removes from the active set too.
	if _, err := f.svc.UpdateStatus(ctx, f.eventID, reqs[0].ID, models.StatusCalled); err != nil {
		t.Fatalf("call: %v", err)
	}
	waitChange(t, f.changes)
	if _, err := f.svc.UpdateStatus(ctx, f.eventID, reqs[0].ID, models.StatusNoShow); err != nil {
		t.Fatalf("no-show: %v", err)
	}
	waitChange(t, f.changes)
	active := f.assertDense(t)
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}

	f.submitKaraoke(t, uuid.New(), "Late Entry")
	f.assertDense(t)
}

func TestReorderQueue(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a := f.submitKaraoke(t, uuid.New(), "A")
	b := f.submitKaraoke(t, uuid.New(), "B")
	c := f.submitKaraoke(t, uuid.New(), "C")

	queue, err := f.svc.ReorderQueue(ctx, f.eventID, models.KindKaraoke, []uuid.UUID{c.ID, a.ID, b.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if queue[0].ID != c.ID || queue[1].ID != a.ID || queue[2].ID != b.ID {
		t.Fatalf("unexpected order")
	}
	for i, r := range queue {
		if r.QueuePosition != i {
			t.Fatalf("rank %d has position %d", i, r.QueuePosition)
		}
	}

	evt := waitChange(t, f.changes)
	if evt.Type != notify.QueueReordered {
		t.Fatalf("expected QueueReordered, got %s", evt.Type)
	}
	ids := evt.OrderedIDs()
	if len(ids) != 3 || ids[0] != c.ID {
		t.Fatalf("reorder event must carry the full new order, got %v", ids)
	}

	// Turn numbers are arrival tickets and never follow positions.
	if queue[0].TurnNumber != 3 || queue[1].TurnNumber != 1 {
		t.Fatalf("reorder must not touch turn numbers")
	}

	f.assertDense(t)
}

func TestReorderRejectsBadPayloads(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a := f.submitKaraoke(t, uuid.New(), "A")
	b := f.submitKaraoke(t, uuid.New(), "B")

	song, err := f.svc.SubmitRequest(ctx, f.eventID, uuid.New(), models.KindSong, track("Interloper"))
	if err != nil {
		t.Fatalf("submit song: %v", err)
	}
	waitChange(t, f.changes)

	var reorderErr *ReorderError
	cases := []struct {
		name    string
		payload []uuid.UUID
		check   func(error) bool
	}{
		{"missing id", []uuid.UUID{a.ID}, func(err error) bool { return errors.As(err, &reorderErr) }},
		{"duplicate id", []uuid.UUID{a.ID, a.ID}, func(err error) bool { return errors.As(err, &reorderErr) }},
		{"foreign id", []uuid.UUID{a.ID, uuid.New()}, func(err error) bool { return errors.As(err, &reorderErr) }},
		{"mixed kinds", []uuid.UUID{a.ID, song.ID}, func(err error) bool { return errors.Is(err, ErrKindMismatch) }},
	}

	for _, tc := range cases {
		_, err := f.svc.ReorderQueue(ctx, f.eventID, models.KindKaraoke, tc.payload)
		if err == nil || !tc.check(err) {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}

	// Nothing was applied and nothing was announced.
	active := f.assertDense(t)
	if active[0].ID != a.ID || active[1].ID != b.ID {
		t.Fatalf("rejected reorders must leave the order unchanged")
	}
	expectNoChange(t, f.changes)
}

func TestReorderSongQueueRejected(t *testing.T) {
	f := newFixture(t, 0)

	var validation *ValidationError
	_, err := f.svc.ReorderQueue(context.Background(), f.eventID, models.KindSong, nil)
	if !errors.As(err, &validation) {
		t.Fatalf("song reorder: got %v, want ValidationError", err)
	}
}

func TestCooldownBlocksSecondSubmission(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	g1, g2 := uuid.New(), uuid.New()

	if _, err := f.svc.SubmitRequest(ctx, f.eventID, g1, models.KindSong, track("First")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitChange(t, f.changes)

	var cooldownErr *CooldownError
	_, err := f.svc.SubmitRequest(ctx, f.eventID, g1, models.KindSong, track("Second"))
	if !errors.As(err, &cooldownErr) {
		t.Fatalf("second submit: got %v, want CooldownError", err)
	}
	if cooldownErr.Remaining <= 0 || cooldownErr.Remaining > 60*time.Second {
		t.Fatalf("remaining out of range: %s", cooldownErr.Remaining)
	}
	expectNoChange(t, f.changes)

	// A different guest is not affected.
	if _, err := f.svc.SubmitRequest(ctx, f.eventID, g2, models.KindSong, track("Other Guest")); err != nil {
		t.Fatalf("other guest: %v", err)
	}
	waitChange(t, f.changes)

	// After the cooldown has elapsed the guest may submit again.
	f.clock.Advance(61 * time.Second)
	if _, err := f.svc.SubmitRequest(ctx, f.eventID, g1, models.KindSong, track("Third")); err != nil {
		t.Fatalf("submit after cooldown: %v", err)
	}
	waitChange(t, f.changes)
}

func TestCooldownReleasedWhenCreateFails(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	g := uuid.New()

	f.store.failCreate = true
	if _, err := f.svc.SubmitRequest(ctx, f.eventID, g, models.KindSong, track("Doomed")); err == nil {
		t.Fatalf("expected store failure")
	}
	expectNoChange(t, f.changes)

	// The reservation must have been released; the retry goes through
	// without waiting out the cooldown.
	f.store.failCreate = false
	if _, err := f.svc.SubmitRequest(ctx, f.eventID, g, models.KindSong, track("Retry")); err != nil {
		t.Fatalf("retry after store failure: %v", err)
	}
	waitChange(t, f.changes)
}

func TestModuleDisabled(t *testing.T) {
	f := newFixture(t, 0)
	f.configs[models.KindKaraoke].Enabled = false

	_, err := f.svc.SubmitRequest(context.Background(), f.eventID, uuid.New(), models.KindKaraoke, track("Nope"))
	if !errors.Is(err, ErrModuleDisabled) {
		t.Fatalf("got %v, want ErrModuleDisabled", err)
	}
	expectNoChange(t, f.changes)
}

func TestSongPriorityOrdering(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.svc.SubmitRequest(ctx, f.eventID, uuid.New(), models.KindSong, track("Early Bird"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitChange(t, f.changes)
	if first.Priority != 0 {
		t.Fatalf("default priority must be 0, got %d", first.Priority)
	}

	second, err := f.svc.SubmitRequest(ctx, f.eventID, uuid.New(), models.KindSong, track("Late Riser"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitChange(t, f.changes)

	// Equal priority: creation order wins.
	queue, err := f.svc.ListQueue(ctx, f.eventID, models.KindSong, FilterActive)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if queue[0].ID != first.ID {
		t.Fatalf("tie-break by creation time failed")
	}

	if _, err := f.svc.SetPriority(ctx, f.eventID, second.ID, 10); err != nil {
		t.Fatalf("set priority: %v", err)
	}
	if evt := waitChange(t, f.changes); evt.Type != notify.RequestUpdated {
		t.Fatalf("expected RequestUpdated, got %s", evt.Type)
	}

	queue, err = f.svc.ListQueue(ctx, f.eventID, models.KindSong, FilterActive)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if queue[0].ID != second.ID {
		t.Fatalf("boosted request must sort first")
	}
}

func TestRejectedTransitionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	req, err := f.svc.SubmitRequest(ctx, f.eventID, uuid.New(), models.KindSong, track("One Hit"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitChange(t, f.changes)

	if _, err := f.svc.UpdateStatus(ctx, f.eventID, req.ID, models.StatusPlayed); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitChange(t, f.changes)

	var transition *TransitionError
	_, err = f.svc.UpdateStatus(ctx, f.eventID, req.ID, models.StatusHighlighted)
	if !errors.As(err, &transition) {
		t.Fatalf("got %v, want TransitionError", err)
	}
	if transition.From != models.StatusPlayed || transition.To != models.StatusHighlighted {
		t.Fatalf("error must carry from/to, got %s -> %s", transition.From, transition.To)
	}
	expectNoChange(t, f.changes)

	stored, err := f.store.GetRequest(ctx, f.eventID, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusPlayed {
		t.Fatalf("rejected transition mutated the store: %s", stored.Status)
	}

	// The explicit revert is an ordinary transition and succeeds.
	reverted, err := f.svc.UpdateStatus(ctx, f.eventID, req.ID, models.StatusPending)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Status != models.StatusPending {
		t.Fatalf("revert failed: %s", reverted.Status)
	}
	waitChange(t, f.changes)
}

func TestRevertedKaraokeRejoinsAtBack(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	r1 := f.submitKaraoke(t, uuid.New(), "First Up")
	f.submitKaraoke(t, uuid.New(), "Second Up")

	for _, status := range []models.RequestStatus{models.StatusCalled, models.StatusNoShow} {
		if _, err := f.svc.UpdateStatus(ctx, f.eventID, r1.ID, status); err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		waitChange(t, f.changes)
	}
	f.assertDense(t)

	back, err := f.svc.UpdateStatus(ctx, f.eventID, r1.ID, models.StatusQueued)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	waitChange(t, f.changes)

	if back.QueuePosition != 1 {
		t.Fatalf("reverted request must rejoin at the back, pos=%d", back.QueuePosition)
	}
	if back.TurnNumber != r1.TurnNumber {
		t.Fatalf("revert must not change the turn number")
	}
	f.assertDense(t)
}

func TestUpdateStatusUnknownRequest(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.svc.UpdateStatus(context.Background(), f.eventID, uuid.New(), models.StatusPlayed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	expectNoChange(t, f.changes)
}
