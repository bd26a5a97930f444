package client

import (
	"context"
	"errors"
	"iter"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/stream"
)

var (
	fixtureChatID      = uuid.MustParse("5d9a9a3c-9073-4f5f-9b4c-d90f23f0e4a1")
	fixtureUserID      = uuid.MustParse("6e7f1f54-14c1-4a3b-8b5e-0c4f6a1b2c3d")
	fixtureAssistantID = uuid.MustParse("7f8a2b65-25d2-4c4c-9c6f-1d5a7b2c3d4e")
)

func fixtureChat() chat.Chat {
	return chat.Chat{
		ID:        fixtureChatID,
		Title:     "what is a knowledge graph?",
		Origin:    "docs/overview",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func fixtureUserMessage() chat.Message {
	return chat.Message{
		ID:      fixtureUserID,
		ChatID:  fixtureChatID,
		Ordinal: 1,
		Role:    chat.RoleUser,
		Content: "what is a knowledge graph?",
	}
}

func fixtureAssistantMessage(content string) chat.Message {
	return chat.Message{
		ID:      fixtureAssistantID,
		ChatID:  fixtureChatID,
		Ordinal: 2,
		Role:    chat.RoleAssistant,
		Content: content,
	}
}

func fixtureDataPart(assistantContent string) stream.DataPart {
	return stream.DataPart{Payload: stream.DataPayload{
		Chat:             fixtureChat(),
		UserMessage:      fixtureUserMessage(),
		AssistantMessage: fixtureAssistantMessage(assistantContent),
	}}
}

func annotationPart(state stream.State, display string) stream.AnnotationPart {
	return stream.AnnotationPart{Annotation: stream.Annotation{State: state, Display: display}}
}

// happyParts is a complete well-formed answer stream: initial data part,
// progress annotations, text deltas, final data part.
func happyParts() []stream.Part {
	return []stream.Part{
		fixtureDataPart(""),
		annotationPart(stream.StateRefineQuestion, ""),
		annotationPart(stream.StateSearchRelatedDocuments, ""),
		annotationPart(stream.StateSourceNodes, "3 sources"),
		annotationPart(stream.StateGenerateAnswer, ""),
		stream.TextPart{Delta: "Hello"},
		stream.TextPart{Delta: " "},
		stream.TextPart{Delta: "world"},
		annotationPart(stream.StateFinished, ""),
		fixtureDataPart("Hello world"),
	}
}

// script is one canned transport exchange: its parts, then an optional
// terminal error.
type script struct {
	parts []stream.Part
	err   error
}

type streamCall struct {
	chatID *uuid.UUID
	params PostParams
}

// scriptedTransport plays one script per Stream call and records how it was
// called. The last script is reused when calls outnumber scripts.
type scriptedTransport struct {
	mu      sync.Mutex
	scripts []script
	calls   []streamCall
}

func (t *scriptedTransport) Stream(_ context.Context, chatID *uuid.UUID, params PostParams) iter.Seq2[stream.Part, error] {
	t.mu.Lock()
	var s script
	if len(t.scripts) > 0 {
		s = t.scripts[0]
		if len(t.scripts) > 1 {
			t.scripts = t.scripts[1:]
		}
	}
	t.calls = append(t.calls, streamCall{chatID: chatID, params: params})
	t.mu.Unlock()

	return func(yield func(stream.Part, error) bool) {
		for _, p := range s.parts {
			if !yield(p, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// blockingTransport parks inside the stream until released, so tests can
// observe the controller mid-post.
type blockingTransport struct {
	started chan struct{}
	release chan struct{}
	parts   []stream.Part
}

func (t *blockingTransport) Stream(_ context.Context, _ *uuid.UUID, _ PostParams) iter.Seq2[stream.Part, error] {
	return func(yield func(stream.Part, error) bool) {
		close(t.started)
		<-t.release
		for _, p := range t.parts {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// eventRecorder captures hub notifications by name, in emission order.
type eventRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *eventRecorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *eventRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}

func recordEvents(c *Controller) *eventRecorder {
	r := &eventRecorder{}
	ev := c.Events()
	ev.Post.Subscribe(func(PostParams) { r.add("post") })
	ev.Created.Subscribe(func(chat.Chat) { r.add("created") })
	ev.Updated.Subscribe(func(chat.Chat) { r.add("updated") })
	ev.MessageLoaded.Subscribe(func(*MessageController) { r.add("message-loaded") })
	ev.PostInitialized.Subscribe(func(stream.DataPayload) { r.add("post-initialized") })
	ev.PostFinished.Subscribe(func(chat.Message) { r.add("post-finished") })
	ev.PostError.Subscribe(func(error) { r.add("post-error") })
	return r
}

func TestPostHappyPath(t *testing.T) {
	tr := &scriptedTransport{scripts: []script{{parts: happyParts()}}}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	var finished chat.Message
	ctrl.Events().PostFinished.Subscribe(func(m chat.Message) { finished = m })

	err := ctrl.Post(context.Background(), PostParams{
		Content: "what is a knowledge graph?",
		Origin:  "docs/overview",
	})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	wantEvents := []string{
		"post",
		"created",         // chat established by the first data part
		"message-loaded",  // user message
		"message-loaded",  // assistant controller
		"post-initialized",
		"updated",         // final data part
		"post-finished",
	}
	if got := rec.all(); !reflect.DeepEqual(got, wantEvents) {
		t.Errorf("events = %v\nwant     %v", got, wantEvents)
	}
	if got := rec.count("post-initialized"); got != 1 {
		t.Errorf("post-initialized fired %d times, want 1", got)
	}
	if got := rec.count("message-loaded"); got != 2 {
		t.Errorf("message-loaded fired %d times, want 2 (no duplicate controller)", got)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(Messages()) = %d, want 2", len(msgs))
	}
	if got := msgs[0].Message(); got.Role != chat.RoleUser || got.Ordinal != 1 {
		t.Errorf("Messages()[0] = role %s ordinal %d, want user message first", got.Role, got.Ordinal)
	}
	assistant := msgs[1]
	if got := assistant.Message(); got.Role != chat.RoleAssistant || got.Content != "Hello world" {
		t.Errorf("assistant = role %s content %q, want assistant with %q", got.Role, got.Content, "Hello world")
	}
	if _, ok := assistant.Ongoing().(Finished); !ok {
		t.Errorf("assistant Ongoing() = %T, want Finished", assistant.Ongoing())
	}
	if finished.Content != "Hello world" {
		t.Errorf("PostFinished payload content = %q, want %q", finished.Content, "Hello world")
	}

	if ctrl.Posting() {
		t.Error("Posting() = true after completion")
	}
	if err := ctrl.LastPostError(); err != nil {
		t.Errorf("LastPostError() = %v, want nil", err)
	}
	if got, ok := ctrl.Chat(); !ok || got.Title != "what is a knowledge graph?" {
		t.Errorf("Chat() = %+v, %v; want established chat", got, ok)
	}

	if tr.callCount() != 1 {
		t.Fatalf("transport calls = %d, want 1", tr.callCount())
	}
	if tr.calls[0].chatID != nil {
		t.Errorf("first post chatID = %v, want nil (new chat)", tr.calls[0].chatID)
	}
	if got := tr.calls[0].params.Content; got != "what is a knowledge graph?" {
		t.Errorf("forwarded content = %q", got)
	}
}

func TestPostRejectsEmptyContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"mixed whitespace", " \n\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{}
			ctrl := New(tr, log.NewNop())
			rec := recordEvents(ctrl)

			err := ctrl.Post(context.Background(), PostParams{Content: tt.content})
			if !errors.Is(err, ErrEmptyMessage) {
				t.Fatalf("Post(%q) error = %v, want ErrEmptyMessage", tt.content, err)
			}
			if tr.callCount() != 0 {
				t.Error("transport was called for an empty post")
			}
			if got := rec.all(); len(got) != 0 {
				t.Errorf("events = %v, want none", got)
			}
			if ctrl.Posting() {
				t.Error("Posting() = true after a rejected post")
			}
		})
	}
}

func TestPostRejectsConcurrentPost(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := &blockingTransport{
		started: make(chan struct{}),
		release: make(chan struct{}),
		parts: []stream.Part{
			fixtureDataPart(""),
			stream.TextPart{Delta: "ok"},
			fixtureDataPart("ok"),
		},
	}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Post(context.Background(), PostParams{Content: "first"})
	}()

	<-tr.started
	if !ctrl.Posting() {
		t.Error("Posting() = false while a stream is open")
	}

	if err := ctrl.Post(context.Background(), PostParams{Content: "second"}); !errors.Is(err, ErrAlreadyPosting) {
		t.Errorf("concurrent Post() error = %v, want ErrAlreadyPosting", err)
	}

	close(tr.release)
	if err := <-done; err != nil {
		t.Fatalf("first Post() error = %v", err)
	}

	// The rejected call must not have disturbed the first post.
	if got := rec.count("post"); got != 1 {
		t.Errorf("post events = %d, want 1", got)
	}
	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(Messages()) = %d, want 2", len(msgs))
	}
	if got := msgs[1].Message().Content; got != "ok" {
		t.Errorf("assistant content = %q, want %q", got, "ok")
	}
}

func TestPartBeforeDataAbortsStream(t *testing.T) {
	tests := []struct {
		name string
		part stream.Part
	}{
		{"text", stream.TextPart{Delta: "orphan"}},
		{"annotations", annotationPart(stream.StateGenerateAnswer, "orphan")},
		{"error", stream.ErrorPart{Message: "orphan failure"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{scripts: []script{{parts: []stream.Part{tt.part}}}}
			ctrl := New(tr, log.NewNop())
			rec := recordEvents(ctrl)

			err := ctrl.Post(context.Background(), PostParams{Content: "hi"})
			if !errors.Is(err, ErrMalformedStream) {
				t.Fatalf("Post() error = %v, want ErrMalformedStream", err)
			}
			if !errors.Is(ctrl.LastPostError(), ErrMalformedStream) {
				t.Errorf("LastPostError() = %v, want ErrMalformedStream", ctrl.LastPostError())
			}

			want := []string{"post", "post-error"}
			if got := rec.all(); !reflect.DeepEqual(got, want) {
				t.Errorf("events = %v, want %v", got, want)
			}
			if ctrl.Posting() {
				t.Error("Posting() = true after an aborted stream")
			}
		})
	}
}

func TestEmptyDeltaIgnoredEvenBeforeData(t *testing.T) {
	tr := &scriptedTransport{scripts: []script{{parts: []stream.Part{
		stream.TextPart{Delta: ""}, // before any data part: ignored, not malformed
		fixtureDataPart(""),
		stream.TextPart{Delta: ""},
		stream.TextPart{Delta: "ok"},
		fixtureDataPart("ok"),
	}}}}
	ctrl := New(tr, log.NewNop())

	if err := ctrl.Post(context.Background(), PostParams{Content: "hi"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	msgs := ctrl.Messages()
	if got := msgs[1].Message().Content; got != "ok" {
		t.Errorf("assistant content = %q, want %q", got, "ok")
	}
}

func TestUnknownPartIgnored(t *testing.T) {
	tr := &scriptedTransport{scripts: []script{{parts: []stream.Part{
		fixtureDataPart(""),
		stream.UnknownPart{Event: "usage", Data: []byte(`{"tokens":12}`)},
		stream.TextPart{Delta: "ok"},
		fixtureDataPart("ok"),
	}}}}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	if err := ctrl.Post(context.Background(), PostParams{Content: "hi"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got := rec.count("post-error"); got != 0 {
		t.Errorf("post-error fired %d times for an unknown part", got)
	}
	if got := ctrl.Messages()[1].Message().Content; got != "ok" {
		t.Errorf("assistant content = %q, want %q", got, "ok")
	}
}

func TestTransportErrorAppliedToActiveMessage(t *testing.T) {
	transportErr := errors.New("connection reset by peer")
	tr := &scriptedTransport{scripts: []script{{
		parts: []stream.Part{fixtureDataPart(""), stream.TextPart{Delta: "Hi"}},
		err:   transportErr,
	}}}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	err := ctrl.Post(context.Background(), PostParams{Content: "hi"})
	if !errors.Is(err, transportErr) {
		t.Fatalf("Post() error = %v, want the transport error", err)
	}
	if !errors.Is(ctrl.LastPostError(), transportErr) {
		t.Errorf("LastPostError() = %v, want the transport error", ctrl.LastPostError())
	}

	events := rec.all()
	if events[len(events)-1] != "post-error" {
		t.Errorf("last event = %q, want post-error", events[len(events)-1])
	}
	if got := rec.count("post-finished"); got != 0 {
		t.Errorf("post-finished fired %d times on a failed stream", got)
	}

	assistant := ctrl.Messages()[1]
	errored, ok := assistant.Ongoing().(Errored)
	if !ok {
		t.Fatalf("assistant Ongoing() = %T, want Errored", assistant.Ongoing())
	}
	if errored.Message != "connection reset by peer" {
		t.Errorf("Errored.Message = %q", errored.Message)
	}
	if got := assistant.Message().Content; got != "Hi" {
		t.Errorf("partial content = %q, want %q preserved", got, "Hi")
	}
	if ctrl.Posting() {
		t.Error("Posting() = true after a failed stream")
	}
}

func TestErrorPartMarksMessageNotPost(t *testing.T) {
	tr := &scriptedTransport{scripts: []script{{parts: []stream.Part{
		fixtureDataPart(""),
		stream.TextPart{Delta: "partial"},
		stream.ErrorPart{Message: "model exploded"},
	}}}}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	// An error part is a message-level failure reported by the server, not
	// a stream failure: the stream still ends normally.
	if err := ctrl.Post(context.Background(), PostParams{Content: "hi"}); err != nil {
		t.Fatalf("Post() error = %v, want nil", err)
	}
	if got := ctrl.LastPostError(); got != nil {
		t.Errorf("LastPostError() = %v, want nil", got)
	}

	events := rec.all()
	if events[len(events)-1] != "post-finished" {
		t.Errorf("last event = %q, want post-finished", events[len(events)-1])
	}
	if got := rec.count("post-error"); got != 0 {
		t.Errorf("post-error fired %d times, want 0", got)
	}

	assistant := ctrl.Messages()[1]
	errored, ok := assistant.Ongoing().(Errored)
	if !ok {
		t.Fatalf("assistant Ongoing() = %T, want Errored", assistant.Ongoing())
	}
	if errored.Message != "model exploded" {
		t.Errorf("Errored.Message = %q", errored.Message)
	}
	if got := assistant.Message().Content; got != "partial" {
		t.Errorf("content = %q, want partial text preserved", got)
	}
}

func TestControllerPostableAfterFailure(t *testing.T) {
	upstream := errors.New("upstream unavailable")
	tr := &scriptedTransport{scripts: []script{
		{err: upstream},
		{parts: happyParts()},
	}}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	if err := ctrl.Post(context.Background(), PostParams{Content: "hi"}); !errors.Is(err, upstream) {
		t.Fatalf("first Post() error = %v, want upstream error", err)
	}
	if err := ctrl.Post(context.Background(), PostParams{Content: "hi again"}); err != nil {
		t.Fatalf("retry Post() error = %v", err)
	}

	if got := ctrl.LastPostError(); got != nil {
		t.Errorf("LastPostError() after successful retry = %v, want nil", got)
	}

	wantEvents := []string{
		"post", "post-error", // failed attempt
		"post", "created", "message-loaded", "message-loaded", "post-initialized", "updated", "post-finished",
	}
	if got := rec.all(); !reflect.DeepEqual(got, wantEvents) {
		t.Errorf("events = %v\nwant     %v", got, wantEvents)
	}

	// The failed post never established a chat, so the retry still asks for
	// a new one.
	if tr.calls[1].chatID != nil {
		t.Errorf("retry chatID = %v, want nil", tr.calls[1].chatID)
	}
}

func TestSecondPostCarriesChatID(t *testing.T) {
	tr := &scriptedTransport{scripts: []script{{parts: happyParts()}}}
	ctrl := New(tr, log.NewNop())

	if err := ctrl.Post(context.Background(), PostParams{Content: "first"}); err != nil {
		t.Fatalf("first Post() error = %v", err)
	}
	if err := ctrl.Post(context.Background(), PostParams{Content: "second"}); err != nil {
		t.Fatalf("second Post() error = %v", err)
	}

	if tr.calls[0].chatID != nil {
		t.Errorf("first post chatID = %v, want nil", tr.calls[0].chatID)
	}
	second := tr.calls[1].chatID
	if second == nil || *second != fixtureChatID {
		t.Errorf("second post chatID = %v, want %s", second, fixtureChatID)
	}
}

func TestStreamWithoutDataParts(t *testing.T) {
	tr := &scriptedTransport{scripts: []script{{}}}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	var finished *chat.Message
	ctrl.Events().PostFinished.Subscribe(func(m chat.Message) { finished = &m })

	if err := ctrl.Post(context.Background(), PostParams{Content: "hi"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	want := []string{"post", "post-finished"}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if finished == nil || finished.ID != uuid.Nil {
		t.Errorf("PostFinished payload = %+v, want zero message", finished)
	}
	if got := len(ctrl.Messages()); got != 0 {
		t.Errorf("len(Messages()) = %d, want 0", got)
	}
	if _, ok := ctrl.Chat(); ok {
		t.Error("Chat() established without any data part")
	}
}

func TestExtraDataPartsNeverReopenTerminalMessage(t *testing.T) {
	tr := &scriptedTransport{scripts: []script{{parts: []stream.Part{
		fixtureDataPart(""),
		stream.ErrorPart{Message: "boom"},
		fixtureDataPart("a"),
		fixtureDataPart("b"),
	}}}}
	ctrl := New(tr, log.NewNop())
	rec := recordEvents(ctrl)

	if err := ctrl.Post(context.Background(), PostParams{Content: "hi"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	wantEvents := []string{
		"post", "created", "message-loaded", "message-loaded", "post-initialized",
		"updated", "updated", // extra data parts merge the chat again
		"post-finished",
	}
	if got := rec.all(); !reflect.DeepEqual(got, wantEvents) {
		t.Errorf("events = %v\nwant     %v", got, wantEvents)
	}

	if got := len(ctrl.Messages()); got != 2 {
		t.Fatalf("len(Messages()) = %d, want 2 (no duplicate controllers)", got)
	}
	assistant := ctrl.Messages()[1]
	if _, ok := assistant.Ongoing().(Errored); !ok {
		t.Errorf("extra data parts re-opened ongoing state: %T", assistant.Ongoing())
	}
	if got := assistant.Message().Content; got != "b" {
		t.Errorf("content = %q, want last snapshot %q", got, "b")
	}
}

func TestUpdateChatMergesSnapshots(t *testing.T) {
	ctrl := New(&scriptedTransport{}, log.NewNop())
	rec := recordEvents(ctrl)

	ctrl.UpdateChat(fixtureChat())

	renamed := chat.Chat{
		ID:        fixtureChatID,
		Title:     "renamed",
		UpdatedAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	}
	ctrl.UpdateChat(renamed)

	want := []string{"created", "updated"}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	got, ok := ctrl.Chat()
	if !ok {
		t.Fatal("Chat() not established")
	}
	if got.Title != "renamed" {
		t.Errorf("Title = %q, want %q", got.Title, "renamed")
	}
	if got.Origin != "docs/overview" {
		t.Errorf("Origin = %q, want preserved value", got.Origin)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt was zeroed by the merge")
	}
	if !got.UpdatedAt.Equal(renamed.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, renamed.UpdatedAt)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	ctrl := New(&scriptedTransport{}, log.NewNop())
	rec := recordEvents(ctrl)

	msg := fixtureUserMessage()
	first := ctrl.UpsertMessage(msg)
	second := ctrl.UpsertMessage(msg)

	if first != second {
		t.Error("UpsertMessage created a duplicate controller for the same id")
	}
	if got := rec.count("message-loaded"); got != 1 {
		t.Errorf("message-loaded fired %d times, want 1", got)
	}

	edited := msg
	edited.Content = "edited"
	ctrl.UpsertMessage(edited)

	if got := first.Message().Content; got != "edited" {
		t.Errorf("content after upsert = %q, want %q", got, "edited")
	}
	if got := len(ctrl.Messages()); got != 1 {
		t.Errorf("len(Messages()) = %d, want 1", got)
	}
}

func TestMessagesOrderedByOrdinal(t *testing.T) {
	ctrl := New(&scriptedTransport{}, log.NewNop())

	// Insertion order deliberately scrambled; ordinal is the only ordering
	// key.
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
	}
	ordinals := []int32{3, 1, 2}
	for i, id := range ids {
		ctrl.UpsertMessage(chat.Message{
			ID:      id,
			ChatID:  fixtureChatID,
			Ordinal: ordinals[i],
			Role:    chat.RoleUser,
			Content: "m",
		})
	}

	var got []int32
	for _, mc := range ctrl.Messages() {
		got = append(got, mc.Message().Ordinal)
	}
	want := []int32{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ordinals = %v, want %v", got, want)
	}
}

type fakeInput struct {
	focused int
}

func (f *fakeInput) Focus() { f.focused++ }

func TestFocusTargetLifecycle(t *testing.T) {
	ctrl := New(&scriptedTransport{}, log.NewNop())

	var mounted, unmounted int
	ctrl.Events().InputMounted.Subscribe(func(FocusTarget) { mounted++ })
	ctrl.Events().InputUnmounted.Subscribe(func(FocusTarget) { unmounted++ })

	// No input bound yet: focusing is a no-op.
	ctrl.FocusInput()

	input := &fakeInput{}
	ctrl.BindInput(input)
	if mounted != 1 {
		t.Errorf("mounted = %d, want 1", mounted)
	}

	ctrl.FocusInput()
	if input.focused != 1 {
		t.Errorf("focused = %d, want 1", input.focused)
	}

	// Unbinding a different target is ignored.
	ctrl.UnbindInput(&fakeInput{})
	if unmounted != 0 {
		t.Errorf("unmounted = %d after stale unbind, want 0", unmounted)
	}
	ctrl.FocusInput()
	if input.focused != 2 {
		t.Errorf("focused = %d, want 2 (input still bound)", input.focused)
	}

	ctrl.UnbindInput(input)
	if unmounted != 1 {
		t.Errorf("unmounted = %d, want 1", unmounted)
	}
	ctrl.FocusInput()
	if input.focused != 2 {
		t.Errorf("focused = %d after unbind, want 2", input.focused)
	}
}
