package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/mq"
	"github.com/shaiso/Semaphore/internal/repo"
)

// --- Fakes ---

type fakeCommandStore struct {
	commands map[uuid.UUID]*domain.Command
}

func newFakeCommandStore() *fakeCommandStore {
	return &fakeCommandStore{commands: make(map[uuid.UUID]*domain.Command)}
}

func (s *fakeCommandStore) add(cmd *domain.Command) {
	s.commands[cmd.ID] = cmd
}

func (s *fakeCommandStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Command, error) {
	cmd, ok := s.commands[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *cmd
	return &cp, nil
}

func (s *fakeCommandStore) UpdateResult(_ context.Context, id uuid.UUID, status domain.CommandStatus, reasonCode, reason string, guarded bool) error {
	cmd, ok := s.commands[id]
	if !ok {
		return repo.ErrNotFound
	}
	if guarded && cmd.Status.IsTerminal() {
		return repo.ErrInvalidState
	}
	cmd.ApplyResult(status, reasonCode, reason, time.Now().UTC())
	return nil
}

type fakeHistory struct {
	items []*domain.CommandHistory
}

func (h *fakeHistory) Create(_ context.Context, item *domain.CommandHistory) error {
	h.items = append(h.items, item)
	return nil
}

type fakeErrNotifier struct {
	notified []*domain.Command
}

func (n *fakeErrNotifier) SendCommandError(_ context.Context, cmd *domain.Command) error {
	n.notified = append(n.notified, cmd)
	return nil
}

// --- Helpers ---

func newTestIngestor(commands *fakeCommandStore, history *fakeHistory, notifier ErrorNotifier, cfg Config) *Ingestor {
	return NewIngestor(commands, history, notifier, slog.New(slog.DiscardHandler), cfg)
}

func pendingCommand() *domain.Command {
	return &domain.Command{
		ID:       uuid.New(),
		DagRunID: uuid.New(),
		Status:   domain.CommandStatusPending,
		LightID:  7,
		CameraID: "cam-7",
	}
}

func resultBody(t *testing.T, msg mq.ResultMessage) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

// --- Tests ---

func TestHandle_MalformedJSONRejected(t *testing.T) {
	ing := newTestIngestor(newFakeCommandStore(), &fakeHistory{}, nil, Config{})

	err := ing.Handle(context.Background(), []byte("{not json"))
	if !errors.Is(err, mq.ErrReject) {
		t.Errorf("expected ErrReject, got %v", err)
	}
}

func TestHandle_BadSeqIDRejected(t *testing.T) {
	ing := newTestIngestor(newFakeCommandStore(), &fakeHistory{}, nil, Config{})

	body := resultBody(t, mq.ResultMessage{SeqID: "not-a-uuid"})
	err := ing.Handle(context.Background(), body)
	if !errors.Is(err, mq.ErrReject) {
		t.Errorf("expected ErrReject, got %v", err)
	}
}

func TestHandle_UnknownCommandDropped(t *testing.T) {
	history := &fakeHistory{}
	ing := newTestIngestor(newFakeCommandStore(), history, nil, Config{})

	body := resultBody(t, mq.ResultMessage{SeqID: uuid.NewString(), Status: "Active"})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Errorf("orphan result should be acked, got %v", err)
	}
	if len(history.items) != 0 {
		t.Error("orphan result should not be journaled")
	}
}

func TestHandle_SuccessResult(t *testing.T) {
	commands := newFakeCommandStore()
	history := &fakeHistory{}
	cmd := pendingCommand()
	commands.add(cmd)

	ing := newTestIngestor(commands, history, nil, Config{})

	body := resultBody(t, mq.ResultMessage{
		SeqID:  cmd.ID.String(),
		Status: "Active",
		Data: &mq.CycleData{
			RedTime:    30,
			GreenTime:  25,
			YellowTime: 3,
			Confidence: 0.97,
		},
	})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if commands.commands[cmd.ID].Status != domain.CommandStatusCompleted {
		t.Errorf("expected Completed, got %s", commands.commands[cmd.ID].Status)
	}
	if len(history.items) != 1 {
		t.Fatalf("expected 1 history item, got %d", len(history.items))
	}
	if history.items[0].Data == nil {
		t.Error("timing data should be journaled")
	}
	if history.items[0].Status != "Active" {
		t.Errorf("history should keep the raw status, got %q", history.items[0].Status)
	}
}

func TestHandle_KnownErrorNotifies(t *testing.T) {
	commands := newFakeCommandStore()
	notifier := &fakeErrNotifier{}
	cmd := pendingCommand()
	commands.add(cmd)

	ing := newTestIngestor(commands, &fakeHistory{}, notifier, Config{})

	body := resultBody(t, mq.ResultMessage{
		SeqID:      cmd.ID.String(),
		ReasonCode: ReasonNoTL,
		Reason:     "no traffic light in frame",
	})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if commands.commands[cmd.ID].Status != domain.CommandStatusFailed {
		t.Errorf("expected Failed, got %s", commands.commands[cmd.ID].Status)
	}
	if len(notifier.notified) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.notified))
	}
	if notifier.notified[0].ReasonCode != ReasonNoTL {
		t.Errorf("notification should carry the reason code, got %q", notifier.notified[0].ReasonCode)
	}
}

func TestHandle_UnknownReasonCodeFailsWithoutNotify(t *testing.T) {
	commands := newFakeCommandStore()
	notifier := &fakeErrNotifier{}
	cmd := pendingCommand()
	commands.add(cmd)

	ing := newTestIngestor(commands, &fakeHistory{}, notifier, Config{})

	body := resultBody(t, mq.ResultMessage{SeqID: cmd.ID.String(), ReasonCode: "ERR_SOMETHING_NEW"})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if commands.commands[cmd.ID].Status != domain.CommandStatusFailed {
		t.Error("unknown reason code must not count as success")
	}
	if len(notifier.notified) != 0 {
		t.Error("unknown reason code should not notify")
	}
}

func TestHandle_RetryBumpsCounter(t *testing.T) {
	commands := newFakeCommandStore()
	cmd := pendingCommand()
	commands.add(cmd)

	ing := newTestIngestor(commands, &fakeHistory{}, nil, Config{})

	body := resultBody(t, mq.ResultMessage{SeqID: cmd.ID.String(), Status: "Retry", Reason: "stream hiccup"})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := commands.commands[cmd.ID]
	if got.Status != domain.CommandStatusRetry {
		t.Errorf("expected Retry, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
}

func TestHandle_LateDuplicateDroppedButJournaled(t *testing.T) {
	commands := newFakeCommandStore()
	history := &fakeHistory{}
	cmd := pendingCommand()
	cmd.Status = domain.CommandStatusCompleted
	commands.add(cmd)

	ing := newTestIngestor(commands, history, nil, Config{})

	body := resultBody(t, mq.ResultMessage{SeqID: cmd.ID.String(), ReasonCode: ReasonOCR})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Fatalf("late duplicate should be acked, got %v", err)
	}

	if commands.commands[cmd.ID].Status != domain.CommandStatusCompleted {
		t.Error("late result must not downgrade a settled command")
	}
	if len(history.items) != 1 {
		t.Error("late result should still be journaled")
	}
}

func TestHandle_OverwriteModeAppliesLateResult(t *testing.T) {
	commands := newFakeCommandStore()
	cmd := pendingCommand()
	cmd.Status = domain.CommandStatusCompleted
	commands.add(cmd)

	ing := newTestIngestor(commands, &fakeHistory{}, nil, Config{AllowOverwrite: true})

	body := resultBody(t, mq.ResultMessage{SeqID: cmd.ID.String(), ReasonCode: "ERR_OCR_UNKNOWN"})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if commands.commands[cmd.ID].Status != domain.CommandStatusFailed {
		t.Error("overwrite mode should apply the late result")
	}
}

func TestHandle_ForwardsCallback(t *testing.T) {
	var received callbackBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("bad callback body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	commands := newFakeCommandStore()
	cmd := pendingCommand()
	commands.add(cmd)

	ing := newTestIngestor(commands, &fakeHistory{}, nil, Config{CallbackURL: srv.URL})

	body := resultBody(t, mq.ResultMessage{SeqID: cmd.ID.String(), Status: "Active"})
	if err := ing.Handle(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.CommandID != cmd.ID.String() {
		t.Errorf("callback should carry command id, got %q", received.CommandID)
	}
	if received.Status != string(domain.CommandStatusCompleted) {
		t.Errorf("callback should carry applied status, got %q", received.Status)
	}
}
