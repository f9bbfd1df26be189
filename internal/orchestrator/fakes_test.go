package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"
)

// callLog records the order of remote teardown calls across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTrack struct {
	mu      sync.Mutex
	kind    domain.TrackKind
	enabled bool
	stopped int
}

func (t *fakeTrack) ID() string             { return string(t.kind) }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
}

func (t *fakeTrack) OnSamples(fn func([]byte)) func() {
	return func() {}
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeDevices struct {
	mu    sync.Mutex
	err   error
	opens int
	video *fakeTrack
	audio *fakeTrack
}

func (d *fakeDevices) Open(ctx context.Context, c domain.MediaConstraints) (domain.Track, domain.AudioTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.err != nil {
		return nil, nil, d.err
	}
	d.video = &fakeTrack{kind: domain.TrackVideo, enabled: true}
	d.audio = &fakeTrack{kind: domain.TrackAudio, enabled: true}
	return d.video, d.audio, nil
}

func (d *fakeDevices) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevices) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// fakeAPI is the remote conversation service. When block is set, creation
// waits on it after signalling createStarted.
type fakeAPI struct {
	mu            sync.Mutex
	log           *callLog
	createErr     error
	creates       int
	ends          int
	block         chan struct{}
	createStarted chan struct{}
}

func (a *fakeAPI) CreateConversation(ctx context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	a.mu.Lock()
	block, started := a.block, a.createStarted
	a.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	if a.createErr != nil {
		return nil, a.createErr
	}
	return &domain.Conversation{
		ConversationID:  "c123",
		ConversationURL: "https://rooms.example/c123",
		Status:          "active",
	}, nil
}

func (a *fakeAPI) EndConversation(ctx context.Context, id string) error {
	a.mu.Lock()
	a.ends++
	a.mu.Unlock()
	a.log.add("conversation.end")
	return nil
}

func (a *fakeAPI) DeletePersona(ctx context.Context, id string) error {
	return nil
}

func (a *fakeAPI) setCreateErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.createErr = err
}

func (a *fakeAPI) counts() (creates, ends int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates, a.ends
}

// fakeProvider is the video room provider behind the real room adapter.
type fakeProvider struct {
	mu          sync.Mutex
	log         *callLog
	state       domain.MeetingState
	joins       int
	leaves      int
	block       chan struct{}
	joinStarted chan struct{}
	handler     func(domain.RoomEvent)
}

func newFakeProvider(log *callLog) *fakeProvider {
	return &fakeProvider{log: log, state: domain.MeetingNew, joinStarted: make(chan struct{}, 1)}
}

func (p *fakeProvider) Join(ctx context.Context, url, name string) error {
	p.mu.Lock()
	p.joins++
	p.state = domain.MeetingJoining
	block := p.block
	p.mu.Unlock()

	select {
	case p.joinStarted <- struct{}{}:
	default:
	}
	if block != nil {
		<-block
	}

	p.mu.Lock()
	p.state = domain.MeetingJoined
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) Leave(ctx context.Context) error {
	p.mu.Lock()
	p.leaves++
	p.state = domain.MeetingLeft
	p.mu.Unlock()
	p.log.add("room.leave")
	return nil
}

func (p *fakeProvider) MeetingState() domain.MeetingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakeProvider) SetLocalAudio(enabled bool) error { return nil }
func (p *fakeProvider) SetLocalVideo(enabled bool) error { return nil }
func (p *fakeProvider) RemoteParticipantIDs() []string   { return []string{"replica"} }

func (p *fakeProvider) OnEvent(handler func(domain.RoomEvent)) {
	p.handler = handler
}

func (p *fakeProvider) counts() (joins, leaves int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joins, p.leaves
}

type fakeStore struct {
	mu        sync.Mutex
	saved     []string
	completed []int
	tooShort  []string
}

func (s *fakeStore) GetInterview(ctx context.Context, id string) (*domain.InterviewRecord, error) {
	return &domain.InterviewRecord{ID: id}, nil
}

func (s *fakeStore) SaveConversation(ctx context.Context, id, personaID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, personaID+" "+url)
	return nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, id string, elapsed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, elapsed)
	return nil
}

func (s *fakeStore) MarkTooShort(ctx context.Context, id string, elapsed int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tooShort = append(s.tooShort, reason)
	return nil
}

type fakeFeedback struct {
	requests chan domain.FeedbackRequest
}

func (f *fakeFeedback) RequestFeedback(ctx context.Context, req domain.FeedbackRequest) error {
	f.requests <- req
	return nil
}
