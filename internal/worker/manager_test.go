package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"omnichat/internal/app"
	"omnichat/internal/attachment"
	"omnichat/internal/models"
	"omnichat/internal/platform"
	"omnichat/internal/platform/memory"
)

type testBackend struct {
	mu        sync.Mutex
	kv        map[string]*memory.KV
	inference map[string]*memory.Inference
}

func newTestBackend() *testBackend {
	return &testBackend{kv: map[string]*memory.KV{}, inference: map[string]*memory.Inference{}}
}

func (b *testBackend) inferenceFor(uid string) *memory.Inference {
	b.mu.Lock()
	defer b.mu.Unlock()
	inf, ok := b.inference[uid]
	if !ok {
		inf = memory.NewInference()
		b.inference[uid] = inf
	}
	return inf
}

func (b *testBackend) factory(ctx context.Context, user models.User) (platform.Services, error) {
	b.mu.Lock()
	kv, ok := b.kv[user.UID]
	if !ok {
		kv = memory.NewKV()
		b.kv[user.UID] = kv
	}
	b.mu.Unlock()
	return platform.Services{
		Identity:  memory.NewIdentity(user, true),
		KV:        kv,
		Files:     memory.NewFiles(),
		Inference: b.inferenceFor(user.UID),
	}, nil
}

func newTestManager(t *testing.T, cfg DispatcherConfig) (*Manager, *testBackend) {
	t.Helper()
	backend := newTestBackend()
	m := NewManager(backend.factory, cfg)
	t.Cleanup(m.Close)
	return m, backend
}

func user(uid string) models.User {
	return models.User{Username: "user" + uid, UID: uid}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestManagerSendCommitsToView(t *testing.T) {
	m, backend := newTestManager(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})
	backend.inferenceFor("1").Script(memory.Reply{Fragments: []string{"ai: ", "hello"}})

	var chunks []string
	res, err := m.Send(context.Background(), user("1"), "hello", func(acc string) { chunks = append(chunks, acc) })
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply.Content != "ai: hello" {
		t.Fatalf("unexpected reply %q", res.Reply.Content)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 fragment callbacks, got %v", chunks)
	}
	view, err := m.View(context.Background(), user("1"))
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.ActiveSession == nil || len(view.ActiveSession.Messages) != 2 {
		t.Fatalf("messages not committed: %+v", view.ActiveSession)
	}
}

func TestManagerRejectsSendWhileReplyPending(t *testing.T) {
	m, backend := newTestManager(t, DispatcherConfig{MinWorkers: 2, MaxWorkers: 2, QueueSize: 4})
	inf := backend.inferenceFor("2")
	gate := make(chan struct{})
	inf.Gate = gate

	done := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), user("2"), "first", nil)
		done <- err
	}()
	ctrl, err := m.Controller(context.Background(), user("2"))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	waitFor(t, ctrl.Pending, "first send never started")

	if _, err := m.Send(context.Background(), user("2"), "second", nil); !errors.Is(err, app.ErrReplyPending) {
		t.Fatalf("expected ErrReplyPending, got %v", err)
	}
	if n := len(inf.Calls()); n != 1 {
		t.Fatalf("expected one inference call, got %d", n)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
}

func TestManagerSlowUserDoesNotBlockOthers(t *testing.T) {
	m, backend := newTestManager(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 3, QueueSize: 16})
	gate := make(chan struct{})
	backend.inferenceFor("slow").Gate = gate

	slowDone := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), user("slow"), "slow", nil)
		slowDone <- err
	}()
	slowCtrl, err := m.Controller(context.Background(), user("slow"))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	waitFor(t, slowCtrl.Pending, "slow send never started")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			if _, err := m.Send(context.Background(), user(uid), "fast", nil); err != nil {
				t.Errorf("send user %s: %v", uid, err)
			}
		}(fmt.Sprintf("fast-%d", i))
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatalf("fast users blocked behind slow user")
	}

	close(gate)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow send: %v", err)
	}
}

func TestManagerAttachSeedsInput(t *testing.T) {
	m, _ := newTestManager(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	prompt, err := m.Attach(context.Background(), user("3"), attachment.File{Name: "a.txt", MediaType: "text/plain", Data: []byte("hi")})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	view, _ := m.View(context.Background(), user("3"))
	if view.Input != prompt {
		t.Fatalf("input not seeded: %q", view.Input)
	}
}

func TestManagerResetUserReloadsFromStore(t *testing.T) {
	m, _ := newTestManager(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	ctx := context.Background()
	first, err := m.Controller(ctx, user("4"))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	sessionID := first.Snapshot().ActiveSessionID

	m.ResetUser("4")
	second, err := m.Controller(ctx, user("4"))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	if first == second {
		t.Fatalf("controller was not rebuilt")
	}
	if got := second.Snapshot().ActiveSessionID; got != sessionID {
		t.Fatalf("sessions not reloaded: want %s got %s", sessionID, got)
	}
}

func TestManagerInvalidationFromPeer(t *testing.T) {
	m, _ := newTestManager(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	ctx := context.Background()
	first, _ := m.Controller(ctx, user("5"))

	m.handleInvalidation(invalidateMessage{UserID: "5", Scope: scopeSessions, Origin: m.instanceID})
	if same, _ := m.Controller(ctx, user("5")); same != first {
		t.Fatalf("own invalidation should be ignored")
	}

	m.handleInvalidation(invalidateMessage{UserID: "5", Scope: scopeSessions, Origin: "peer"})
	if rebuilt, _ := m.Controller(ctx, user("5")); rebuilt == first {
		t.Fatalf("peer invalidation should rebuild the controller")
	}
}

func TestManagerEvictIdle(t *testing.T) {
	m, _ := newTestManager(t, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	if _, err := m.Controller(context.Background(), user("6")); err != nil {
		t.Fatalf("controller: %v", err)
	}
	if n := m.EvictIdle(time.Hour); n != 0 {
		t.Fatalf("fresh controller evicted")
	}
	if n := m.EvictIdle(0); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
}

func TestManagerEvictionDuringSlowInitDoesNotBlockOthers(t *testing.T) {
	backend := newTestBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	factory := func(ctx context.Context, u models.User) (platform.Services, error) {
		if u.UID == "1" {
			close(entered)
			<-release
		}
		return backend.factory(ctx, u)
	}
	m := NewManager(factory, DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	t.Cleanup(m.Close)

	slowDone := make(chan error, 1)
	go func() {
		_, err := m.Controller(context.Background(), user("1"))
		slowDone <- err
	}()
	<-entered

	evicted := make(chan int, 1)
	go func() { evicted <- m.EvictIdle(time.Hour) }()
	time.Sleep(20 * time.Millisecond)

	otherDone := make(chan error, 1)
	go func() {
		_, err := m.Controller(context.Background(), user("2"))
		otherDone <- err
	}()
	select {
	case err := <-otherDone:
		if err != nil {
			t.Fatalf("controller for user 2: %v", err)
		}
	case <-time.After(time.Second):
		close(release)
		t.Fatalf("user 2 blocked while user 1 was initializing")
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("controller for user 1: %v", err)
	}
	if n := <-evicted; n != 0 {
		t.Fatalf("fresh controllers evicted: %d", n)
	}
	if m.lookup("1") == nil || m.lookup("2") == nil {
		t.Fatalf("controllers dropped by eviction")
	}
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	d := NewDispatcher(1, 1, 1, time.Minute)
	defer d.Close()
	ctx := context.Background()

	block := make(chan struct{})
	started := make(chan struct{})
	slow := newJob(ctx, Send, "a", func(context.Context) (any, error) {
		close(started)
		<-block
		return "a", nil
	})
	quick := func(uid string) Job {
		return newJob(ctx, Send, uid, func(context.Context) (any, error) { return uid, nil })
	}

	if err := d.Submit(slow); err != nil {
		t.Fatalf("submit slow: %v", err)
	}
	<-started
	second := quick("b")
	if err := d.Submit(second); err != nil {
		t.Fatalf("submit second: %v", err)
	}
	waitFor(t, func() bool { return len(d.JobQueue) == 0 }, "dispatcher did not pick up job")
	third := quick("c")
	if err := d.Submit(third); err != nil {
		t.Fatalf("submit third: %v", err)
	}
	if err := d.Submit(quick("d")); !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}

	close(block)
	for _, j := range []Job{slow, second, third} {
		select {
		case res := <-j.done:
			if res.err != nil || res.value != j.UserID {
				t.Fatalf("job %s: %+v", j.UserID, res)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("job %s never finished", j.UserID)
		}
	}
}

func TestDispatcherCancelUser(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	ctx := context.Background()
	noop := func(context.Context) (any, error) { return nil, nil }
	first := newJob(ctx, Send, "a", noop)
	second := newJob(ctx, Attach, "a", noop)
	other := newJob(ctx, Send, "b", noop)
	d.enqueueJob(first)
	d.enqueueJob(second)
	d.enqueueJob(other)

	d.CancelUser("a")
	for _, j := range []Job{first, second} {
		res := <-j.done
		if !errors.Is(res.err, ErrJobCanceled) {
			t.Fatalf("expected ErrJobCanceled, got %v", res.err)
		}
	}
	if d.ready.Len() != 1 || d.ready.Front().Value.(string) != "b" {
		t.Fatalf("other user's queue affected")
	}
}

func TestPoolShutdownExpiredKeepsMin(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Hour)
	defer p.close()
	for i := 0; i < 3; i++ {
		p.spawnWorker()
	}
	waitFor(t, func() bool {
		running, idle := p.size()
		return running == 3 && idle == 3
	}, "workers did not become idle")

	p.mu.Lock()
	for _, meta := range p.idle {
		meta.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()
	p.shutdownExpired()

	waitFor(t, func() bool {
		running, _ := p.size()
		return running == 1
	}, "expired workers were not retired")
}
