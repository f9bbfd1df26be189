package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bbielsa/interviewcall/internal/auth"
	"github.com/bbielsa/interviewcall/internal/config"
	"github.com/bbielsa/interviewcall/internal/conversation"
	"github.com/bbielsa/interviewcall/internal/domain"
	"github.com/bbielsa/interviewcall/internal/feedback"
	"github.com/bbielsa/interviewcall/internal/media"
	"github.com/bbielsa/interviewcall/internal/media/miniaudio"
	"github.com/bbielsa/interviewcall/internal/metrics"
	"github.com/bbielsa/interviewcall/internal/orchestrator"
	"github.com/bbielsa/interviewcall/internal/room"
	"github.com/bbielsa/interviewcall/internal/room/webrtc"
	"github.com/bbielsa/interviewcall/internal/store"
	"github.com/bbielsa/interviewcall/internal/tavus"
)

const helpText = `interviewcall - Run an AI mock interview over a video call

Usage:
  interviewcall [options]

Creates (or resumes) an interview record, opens the camera and microphone,
starts a conversation with the AI interviewer and joins its video room.
Press Enter to join once ready and Enter again to end the call.

Environment Variables:
  TAVUS_API_KEY            Conversation API key (required)
  TAVUS_BASE_URL           Conversation API base URL
  INTERVIEW_PERSONAS_PATH  Interview type to replica/persona mapping (YAML)
  INTERVIEW_DB_PATH        sqlite database for interview records
  AUTH_URL, AUTH_API_KEY   Hosted auth service; sign-in is skipped when unset
  AUTH_EMAIL, AUTH_PASSWORD
  FEEDBACK_URL             Feedback pipeline endpoint
  METRICS_ADDR             Serve prometheus metrics on this address
  VIDEO_DEVICE             Camera device node (default /dev/video0)
  AVATAR_VIDEO_PATH        Write the interviewer's H264 stream to this file
  ICE_SERVERS              Comma separated STUN/TURN URLs

Examples:
  # New technical interview
  interviewcall -type technical -role "Backend Engineer" -company Acme

  # Resume a scheduled interview and keep the audio
  interviewcall -interview 6f1c... -recording answer.pcm

Options:
`

type options struct {
	interviewID     string
	interviewType   string
	role            string
	company         string
	minutes         int
	conversationURL string
	name            string
	email           string
	recordingPath   string
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.interviewID, "interview", "", "resume the interview record with this id")
	flag.StringVar(&opts.interviewType, "type", "technical", "interview type")
	flag.StringVar(&opts.role, "role", "", "role being interviewed for")
	flag.StringVar(&opts.company, "company", "", "company being interviewed for")
	flag.IntVar(&opts.minutes, "minutes", 0, "call length in minutes (default from DEFAULT_CALL_DURATION)")
	flag.StringVar(&opts.conversationURL, "conversation-url", "", "join an existing conversation instead of creating one")
	flag.StringVar(&opts.name, "name", "Candidate", "display name in the call")
	flag.StringVar(&opts.email, "email", os.Getenv("AUTH_EMAIL"), "sign-in email")
	flag.StringVar(&opts.recordingPath, "recording", "", "write the captured microphone audio to this file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, helpText)
		flag.PrintDefaults()
	}
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] done")
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	// Step 1: Sign in
	authCtx, err := signIn(ctx, cfg, opts)
	if err != nil {
		return err
	}
	if authCtx != nil {
		defer authCtx.Dispose()
	}

	// Step 2: Load or create the interview record
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := loadInterview(ctx, st, opts)
	if err != nil {
		return err
	}
	log.Printf("[main] interview %s: type=%s role=%q company=%q", rec.ID, rec.Type, rec.Role, rec.Company)

	// Step 3: Conversation resource
	personas, err := config.LoadPersonas(cfg.PersonasPath)
	if err != nil {
		return err
	}
	conversations := conversation.NewResource(
		tavus.NewClient(cfg.TavusBaseURL, cfg.TavusAPIKey),
		personas,
		conversation.WithRecording(cfg.EnableRecording),
	)

	// Step 4: Local media
	guard := media.NewGuard(miniaudio.NewDevices(cfg.VideoDevice))

	// Step 5: Call room
	roomOpts := []webrtc.Option{webrtc.WithICEServers(cfg.ICEServers)}
	if cfg.AvatarVideoPath != "" {
		f, err := os.Create(cfg.AvatarVideoPath)
		if err != nil {
			return fmt.Errorf("create avatar video file: %w", err)
		}
		defer f.Close()
		roomOpts = append(roomOpts, webrtc.WithVideoSink(f))
	}
	adapter := room.NewAdapter(webrtc.NewRoom(roomOpts...), room.WithSettleDelay(cfg.SettleDelay))

	// Step 6: Feedback and metrics
	var pipeline domain.FeedbackPipeline = feedback.Discard{}
	if cfg.FeedbackURL != "" {
		token := cfg.FeedbackToken
		if token == "" && authCtx != nil && authCtx.Session() != nil {
			token = authCtx.Session().AccessToken
		}
		pipeline = feedback.NewClient(cfg.FeedbackURL, token)
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Printf("[main] metrics server: %v", err)
			}
		}()
	}

	// Step 7: Orchestrator
	orch := orchestrator.New(guard, conversations, adapter,
		orchestrator.WithMinDuration(cfg.MinCallDuration),
		orchestrator.WithDefaultDuration(cfg.DefaultCallDuration),
		orchestrator.WithStore(st),
		orchestrator.WithFeedback(pipeline),
		orchestrator.WithStateListener(stateLogger()),
		orchestrator.WithCompletionHandler(func(c domain.Completion) {
			log.Printf("[main] interview complete after %ds (%s), feedback requested", c.ElapsedSeconds, c.Reason)
		}),
	)
	defer orch.Close(context.Background())

	lines := readLines(os.Stdin)
	if err := prepare(ctx, orch, requestFor(rec, opts), lines); err != nil {
		return err
	}
	if err := join(ctx, orch, lines); err != nil {
		return err
	}

	log.Printf("[main] connected, press Enter to end the call")
	select {
	case <-lines:
		orch.EndCall(ctx)
	case <-ctx.Done():
		orch.Close(context.Background())
	case <-orch.Done():
	}
	<-orch.Done()

	snap := orch.Snapshot()
	if snap.Outcome == domain.OutcomeTooShort {
		log.Printf("[main] call was too short for feedback")
	}

	// Personas generated for this interview are single use.
	if rec.LLMGeneratedContext != "" {
		if err := conversations.DeletePersona(context.Background(), rec.TavusPersonaID); err != nil {
			log.Printf("[main] delete persona %s: %v", rec.TavusPersonaID, err)
		}
	}
	return saveRecording(opts.recordingPath, orch.Recording())
}

func signIn(ctx context.Context, cfg *config.Config, opts options) (*auth.Context, error) {
	if cfg.AuthURL == "" {
		return nil, nil
	}

	authCtx := auth.New(auth.NewHTTPProvider(cfg.AuthURL, cfg.AuthAPIKey), auth.NewFileStore(cfg.AuthSessionPath))
	events, unsubscribe := authCtx.Subscribe()
	go func() {
		defer unsubscribe()
		for ev := range events {
			if ev.Session != nil {
				log.Printf("[auth] %s: %s", ev.Type, ev.Session.User.Email)
			} else {
				log.Printf("[auth] %s", ev.Type)
			}
		}
	}()

	if err := authCtx.Init(ctx); err != nil {
		authCtx.Dispose()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if authCtx.Session() != nil {
		return authCtx, nil
	}

	if opts.email == "" {
		authCtx.Dispose()
		return nil, errors.New("not signed in: set AUTH_EMAIL and AUTH_PASSWORD")
	}
	if _, err := authCtx.SignIn(ctx, opts.email, os.Getenv("AUTH_PASSWORD")); err != nil {
		authCtx.Dispose()
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return authCtx, nil
}

func loadInterview(ctx context.Context, st *store.Store, opts options) (*domain.InterviewRecord, error) {
	if opts.interviewID != "" {
		return st.GetInterview(ctx, opts.interviewID)
	}
	return st.CreateInterview(ctx, domain.InterviewRecord{
		Type:                 domain.InterviewType(opts.interviewType),
		Role:                 opts.role,
		Company:              opts.company,
		DurationMinutes:      opts.minutes,
		TavusConversationURL: opts.conversationURL,
	})
}

func requestFor(rec *domain.InterviewRecord, opts options) orchestrator.Request {
	return orchestrator.Request{
		InterviewID:     rec.ID,
		ParticipantName: opts.name,
		Options: domain.StartOptions{
			InterviewType:         rec.Type,
			Role:                  rec.Role,
			Company:               rec.Company,
			PersonaID:             rec.TavusPersonaID,
			ConversationURL:       rec.TavusConversationURL,
			CustomGreeting:        rec.LLMGeneratedGreeting,
			ConversationalContext: rec.LLMGeneratedContext,
			MaxCallDuration:       time.Duration(rec.DurationMinutes) * time.Minute,
		},
	}
}

// prepare initializes the call, offering a retry after each failure.
func prepare(ctx context.Context, orch *orchestrator.Orchestrator, req orchestrator.Request, lines <-chan string) error {
	err := orch.Initialize(ctx, req)
	for err != nil {
		if errors.Is(err, orchestrator.ErrClosed) || errors.Is(err, orchestrator.ErrInvalidState) || ctx.Err() != nil {
			return err
		}
		log.Printf("[main] setup failed: %v", err)
		log.Printf("[main] press Enter to retry, Ctrl+C to quit")
		if !waitLine(ctx, lines) {
			return ctx.Err()
		}
		err = orch.Retry(ctx)
	}
	return nil
}

// join waits for the user and joins the room, returning to the prompt when
// the join fails.
func join(ctx context.Context, orch *orchestrator.Orchestrator, lines <-chan string) error {
	for {
		log.Printf("[main] ready, press Enter to join the call")
		if !waitLine(ctx, lines) {
			return ctx.Err()
		}
		err := orch.JoinCall(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, orchestrator.ErrInvalidState) || ctx.Err() != nil {
			return err
		}
		log.Printf("[main] join failed: %v", err)
	}
}

func waitLine(ctx context.Context, lines <-chan string) bool {
	select {
	case _, ok := <-lines:
		return ok
	case <-ctx.Done():
		return false
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// stateLogger prints lifecycle transitions and the remaining time once a minute.
func stateLogger() func(orchestrator.Snapshot) {
	var (
		mu         sync.Mutex
		last       domain.LifecycleState
		lastMinute = -1
	)
	return func(s orchestrator.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.State != last {
			last = s.State
			if s.Failure != nil {
				log.Printf("[call] %s (%s failure)", s.State, s.Failure.Kind)
			} else {
				log.Printf("[call] %s", s.State)
			}
		}
		if s.Timer.Running {
			if minute := s.Timer.RemainingSeconds / 60; minute != lastMinute && s.Timer.RemainingSeconds%60 == 0 {
				lastMinute = minute
				log.Printf("[call] %d:00 remaining", minute)
			}
		}
	}
}

func saveRecording(path string, data []byte) error {
	if path == "" || len(data) == 0 {
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	log.Printf("[main] wrote %d bytes of audio to %s", len(data), path)
	return nil
}
