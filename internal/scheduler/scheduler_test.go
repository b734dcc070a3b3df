package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/mq"
	"github.com/shaiso/Semaphore/internal/repo"
)

// --- Fakes ---

type fakeRunStore struct {
	runs        map[string]*domain.DagRun // ключ — dagID + "/" + dagRunID
	updates     int
	failCreate  error
	afterCreate func() // хук для имитации гонки
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*domain.DagRun)}
}

func runKey(dagID, dagRunID string) string { return dagID + "/" + dagRunID }

func (s *fakeRunStore) Create(_ context.Context, run *domain.DagRun) error {
	if s.failCreate != nil {
		err := s.failCreate
		if s.afterCreate != nil {
			s.afterCreate()
		}
		return err
	}
	key := runKey(run.AirflowDagID, run.AirflowDagRunID)
	if _, ok := s.runs[key]; ok {
		return repo.ErrAlreadyExists
	}
	cp := *run
	s.runs[key] = &cp
	return nil
}

func (s *fakeRunStore) GetByAirflowIDs(_ context.Context, dagID, dagRunID string) (*domain.DagRun, error) {
	run, ok := s.runs[runKey(dagID, dagRunID)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *fakeRunStore) Update(_ context.Context, run *domain.DagRun) error {
	key := runKey(run.AirflowDagID, run.AirflowDagRunID)
	if _, ok := s.runs[key]; !ok {
		return repo.ErrNotFound
	}
	cp := *run
	s.runs[key] = &cp
	s.updates++
	return nil
}

type fakeCommandStore struct {
	commands map[uuid.UUID]*domain.Command
}

func newFakeCommandStore() *fakeCommandStore {
	return &fakeCommandStore{commands: make(map[uuid.UUID]*domain.Command)}
}

func (s *fakeCommandStore) CreateBatch(_ context.Context, commands []*domain.Command) error {
	for _, cmd := range commands {
		if _, ok := s.commands[cmd.ID]; ok {
			return repo.ErrAlreadyExists
		}
		cp := *cmd
		s.commands[cmd.ID] = &cp
	}
	return nil
}

func (s *fakeCommandStore) ListByDagRun(_ context.Context, dagRunID uuid.UUID) ([]domain.Command, error) {
	var out []domain.Command
	for _, cmd := range s.commands {
		if cmd.DagRunID == dagRunID {
			out = append(out, *cmd)
		}
	}
	return out, nil
}

func (s *fakeCommandStore) ListPendingOrRunning(_ context.Context, dagRunID uuid.UUID) ([]domain.Command, error) {
	var out []domain.Command
	for _, cmd := range s.commands {
		if cmd.DagRunID == dagRunID && !cmd.Status.IsSettled() {
			out = append(out, *cmd)
		}
	}
	return out, nil
}

func (s *fakeCommandStore) CountPendingOrRunning(ctx context.Context, dagRunID uuid.UUID) (int, error) {
	list, _ := s.ListPendingOrRunning(ctx, dagRunID)
	return len(list), nil
}

func (s *fakeCommandStore) CountByStatus(_ context.Context, dagRunID uuid.UUID, status domain.CommandStatus) (int, error) {
	n := 0
	for _, cmd := range s.commands {
		if cmd.DagRunID == dagRunID && cmd.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *fakeCommandStore) TimeoutMany(_ context.Context, ids []uuid.UUID, reasonCode, reason string) (int, error) {
	n := 0
	for _, id := range ids {
		cmd, ok := s.commands[id]
		if !ok {
			continue
		}
		if cmd.Status != domain.CommandStatusPending && cmd.Status != domain.CommandStatusRunning {
			continue
		}
		cmd.Status = domain.CommandStatusTimeout
		cmd.ReasonCode = reasonCode
		cmd.Reason = reason
		n++
	}
	return n, nil
}

func (s *fakeCommandStore) setStatus(id uuid.UUID, status domain.CommandStatus) {
	s.commands[id].Status = status
}

type fakeCatalog struct {
	lights []domain.Light
}

func (c *fakeCatalog) ListMainLights(context.Context) ([]domain.Light, error) {
	return c.lights, nil
}

type fakeBus struct {
	published []*mq.CollectionMessage
	fail      error
}

func (b *fakeBus) PublishCollection(_ context.Context, msg *mq.CollectionMessage) error {
	if b.fail != nil {
		return b.fail
	}
	b.published = append(b.published, msg)
	return nil
}

type fakeNotifier struct {
	summaries []*Summary
	notifyTo  []string
	fail      error
}

func (n *fakeNotifier) SendJobSummary(_ context.Context, s *Summary, notifyTo []string) error {
	if n.fail != nil {
		return n.fail
	}
	n.summaries = append(n.summaries, s)
	n.notifyTo = notifyTo
	return nil
}

// --- Helpers ---

func testLights() []domain.Light {
	sub := 1
	return []domain.Light{
		{ID: 1, Name: "Crossing A", CameraID: "cam-1", CameraLiveURL: "rtsp://a", Bboxes: [][][]int{{{1, 2}, {3, 4}}}},
		{ID: 2, Name: "Crossing B", CameraID: "cam-2", CameraLiveURL: "rtsp://b", Bboxes: [][][]int{{{5, 6}, {7, 8}}}},
		// Без bboxes — должен быть пропущен при fan-out.
		{ID: 3, Name: "Crossing C", CameraID: "cam-3", CameraLiveURL: "rtsp://c", MainLightID: &sub},
	}
}

func newTestService(runs *fakeRunStore, commands *fakeCommandStore, catalog *fakeCatalog, bus *fakeBus, notifier Notifier) *Service {
	logger := slog.New(slog.DiscardHandler)
	return NewService(runs, commands, catalog, bus, notifier, logger, Config{})
}

// --- Trigger ---

func TestTrigger_FansOutOnlyLightsWithBboxes(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	bus := &fakeBus{}
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, bus, nil)

	run, err := svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.DagRunStatusRunning {
		t.Errorf("expected Running, got %s", run.Status)
	}
	if run.TotalCommands != 2 {
		t.Errorf("expected 2 commands, got %d", run.TotalCommands)
	}
	if len(bus.published) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(bus.published))
	}
	if len(commands.commands) != 2 {
		t.Errorf("expected 2 persisted commands, got %d", len(commands.commands))
	}

	msg := bus.published[0]
	if msg.Type != "Light" {
		t.Errorf("expected type Light, got %s", msg.Type)
	}
	if msg.FramesInSecond != 1 || msg.DurationExtractFrame != 180 {
		t.Errorf("unexpected extraction defaults: %d fps, %d s", msg.FramesInSecond, msg.DurationExtractFrame)
	}
	if msg.CameraSource != mq.DefaultCameraSource {
		t.Errorf("expected default camera source, got %s", msg.CameraSource)
	}
	if _, err := uuid.Parse(msg.SeqID); err != nil {
		t.Errorf("SeqId should be a command uuid: %v", err)
	}

	if !run.TimeoutAt.Equal(run.StartTime.Add(DefaultDagTimeout)) {
		t.Error("TimeoutAt should be StartTime + default timeout")
	}
}

func TestTrigger_Idempotent(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	bus := &fakeBus{}
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, bus, nil)

	first, err := svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID != second.ID {
		t.Error("repeated trigger should return the same run")
	}
	if len(bus.published) != 2 {
		t.Errorf("repeated trigger should not fan out again, got %d messages", len(bus.published))
	}
}

func TestTrigger_LostRaceReturnsWinner(t *testing.T) {
	runs := newFakeRunStore()
	winner := &domain.DagRun{
		ID:              uuid.New(),
		AirflowDagID:    "collect_tl",
		AirflowDagRunID: "run_1",
		Status:          domain.DagRunStatusRunning,
	}

	// Между lookup и create конкурент успел вставить run.
	runs.failCreate = repo.ErrAlreadyExists
	runs.afterCreate = func() {
		runs.runs[runKey("collect_tl", "run_1")] = winner
		runs.failCreate = nil
	}

	bus := &fakeBus{}
	svc := newTestService(runs, newFakeCommandStore(), &fakeCatalog{lights: testLights()}, bus, nil)

	run, err := svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ID != winner.ID {
		t.Error("loser should return the winner's run")
	}
	if len(bus.published) != 0 {
		t.Error("loser should not fan out")
	}
}

func TestTrigger_NoLights(t *testing.T) {
	svc := newTestService(newFakeRunStore(), newFakeCommandStore(), &fakeCatalog{}, &fakeBus{}, nil)

	_, err := svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")
	if !errors.Is(err, ErrNoLights) {
		t.Errorf("expected ErrNoLights, got %v", err)
	}
}

// --- Check ---

func TestCheck_NotDoneWhilePending(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, &fakeBus{}, nil)

	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	allDone, got, err := svc.CheckCollectLights(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allDone {
		t.Error("run with pending commands should not be done")
	}
	if got.Status != domain.DagRunStatusRunning {
		t.Errorf("expected Running, got %s", got.Status)
	}
}

func TestCheck_SettlesOnce(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, &fakeBus{}, nil)

	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	// Одна команда успешна, вторая упала: run всё равно завершён.
	var i int
	for id := range commands.commands {
		if i == 0 {
			commands.setStatus(id, domain.CommandStatusCompleted)
		} else {
			commands.setStatus(id, domain.CommandStatusFailed)
		}
		i++
	}

	allDone, run, err := svc.CheckCollectLights(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allDone {
		t.Fatal("run should be done")
	}
	if run.Status != domain.DagRunStatusSuccess {
		t.Errorf("expected Success, got %s", run.Status)
	}
	if run.CompletedCommands != 1 {
		t.Errorf("expected 1 completed, got %d", run.CompletedCommands)
	}
	if run.EndTime == nil {
		t.Error("EndTime should be set")
	}

	updatesAfterSettle := runs.updates

	// Повторный check ничего не пишет.
	allDone, _, err = svc.CheckCollectLights(context.Background(), "collect_tl", "run_1")
	if err != nil || !allDone {
		t.Fatalf("repeat check: allDone=%v err=%v", allDone, err)
	}
	if runs.updates != updatesAfterSettle {
		t.Error("repeat check should not write")
	}
}

func TestCheck_UnknownRun(t *testing.T) {
	svc := newTestService(newFakeRunStore(), newFakeCommandStore(), &fakeCatalog{}, &fakeBus{}, nil)

	_, _, err := svc.CheckCollectLights(context.Background(), "collect_tl", "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

// --- UpdateDagRunStatus ---

func TestUpdateStatus_InvalidRejected(t *testing.T) {
	runs := newFakeRunStore()
	svc := newTestService(runs, newFakeCommandStore(), &fakeCatalog{lights: testLights()}, &fakeBus{}, nil)
	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	_, err := svc.UpdateDagRunStatus(context.Background(), "collect_tl", "run_1", "Exploded", "")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	runs := newFakeRunStore()
	svc := newTestService(runs, newFakeCommandStore(), &fakeCatalog{lights: testLights()}, &fakeBus{}, nil)
	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	updates := runs.updates
	run, err := svc.UpdateDagRunStatus(context.Background(), "collect_tl", "run_1", "Running", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.DagRunStatusRunning {
		t.Errorf("expected Running, got %s", run.Status)
	}
	if runs.updates != updates {
		t.Error("same-status update should not write")
	}
}

func TestUpdateStatus_CancelRecordsReason(t *testing.T) {
	runs := newFakeRunStore()
	svc := newTestService(runs, newFakeCommandStore(), &fakeCatalog{lights: testLights()}, &fakeBus{}, nil)
	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	run, err := svc.UpdateDagRunStatus(context.Background(), "collect_tl", "run_1", "Canceled", "operator abort")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.DagRunStatusCanceled {
		t.Errorf("expected Canceled, got %s", run.Status)
	}
	if run.EndTime == nil {
		t.Error("terminal override should set EndTime")
	}
	if run.LastReason != "operator abort" || run.LastReasonAt == nil {
		t.Error("reason should be recorded with timestamp")
	}
}

// --- Timeout sweep ---

func TestTimeout_NoPendingCommands(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, &fakeBus{}, nil)
	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	for id := range commands.commands {
		commands.setStatus(id, domain.CommandStatusCompleted)
	}
	updates := runs.updates

	affected, transitioned, err := svc.SetTimeoutForPendingCommands(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 0 || transitioned {
		t.Errorf("expected (0, false), got (%d, %v)", affected, transitioned)
	}
	if runs.updates != updates {
		t.Error("no-op sweep should not write")
	}
}

func TestTimeout_SweepsStuckCommands(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, &fakeBus{}, nil)
	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	// Одна команда уже успела завершиться.
	var completedID uuid.UUID
	for id := range commands.commands {
		completedID = id
		break
	}
	commands.setStatus(completedID, domain.CommandStatusCompleted)

	affected, transitioned, err := svc.SetTimeoutForPendingCommands(context.Background(), "collect_tl", "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 1 {
		t.Errorf("expected 1 swept command, got %d", affected)
	}
	if !transitioned {
		t.Error("Running run should transition to Timeout")
	}

	if commands.commands[completedID].Status != domain.CommandStatusCompleted {
		t.Error("settled command should be untouched by sweep")
	}
	for id, cmd := range commands.commands {
		if id == completedID {
			continue
		}
		if cmd.Status != domain.CommandStatusTimeout {
			t.Errorf("expected Timeout, got %s", cmd.Status)
		}
		if cmd.ReasonCode != TimeoutReasonCode {
			t.Errorf("expected reason code %s, got %s", TimeoutReasonCode, cmd.ReasonCode)
		}
	}

	run, _ := runs.GetByAirflowIDs(context.Background(), "collect_tl", "run_1")
	if run.Status != domain.DagRunStatusTimeout {
		t.Errorf("expected run Timeout, got %s", run.Status)
	}
	if run.CompletedCommands != 1 {
		t.Errorf("expected 1 completed counted, got %d", run.CompletedCommands)
	}
}

// --- Summary ---

func TestSummary_Aggregates(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	notifier := &fakeNotifier{}
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, &fakeBus{}, notifier)
	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	var i int
	for id := range commands.commands {
		if i == 0 {
			commands.setStatus(id, domain.CommandStatusCompleted)
		} else {
			commands.setStatus(id, domain.CommandStatusFailed)
			commands.commands[id].ReasonCode = "ERR_NO_TL"
			commands.commands[id].Reason = "no traffic light detected"
		}
		i++
	}

	summary, err := svc.SummarizeAndNotify(context.Background(), "collect_tl", "run_1", []string{"ops@example.com", "traffic_monitoring"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.TotalCommands != 2 || summary.CompletedCommands != 1 || summary.ErrorCommands != 1 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	if summary.SuccessRate != 50 {
		t.Errorf("expected success rate 50, got %f", summary.SuccessRate)
	}
	if len(summary.ErrorDetails) != 1 {
		t.Fatalf("expected 1 error detail, got %d", len(summary.ErrorDetails))
	}
	if summary.ErrorDetails[0].ReasonCode != "ERR_NO_TL" {
		t.Errorf("unexpected error detail: %+v", summary.ErrorDetails[0])
	}
	if len(notifier.summaries) != 1 {
		t.Errorf("expected notification, got %d", len(notifier.summaries))
	}
	if len(notifier.notifyTo) != 2 || notifier.notifyTo[0] != "ops@example.com" {
		t.Errorf("notify_to should reach the notifier, got %v", notifier.notifyTo)
	}
}

func TestSummary_ErrorDetailCarriesCameraSource(t *testing.T) {
	run := &domain.DagRun{
		ID:            uuid.New(),
		AirflowDagID:  "collect_tl",
		Status:        domain.DagRunStatusSuccess,
		StartTime:     time.Now().UTC(),
		ExecutionDate: time.Now().UTC(),
	}
	cmds := []domain.Command{{
		ID:         uuid.New(),
		DagRunID:   run.ID,
		Status:     domain.CommandStatusFailed,
		LightID:    7,
		CameraID:   "cam-7",
		ReasonCode: "ERR_OCR",
		Payload:    domain.CommandPayload{LightID: 7, CameraID: "cam-7", CameraSource: "BKAV"},
	}}

	summary := buildSummary(run, cmds, time.Now().UTC())

	if len(summary.ErrorDetails) != 1 {
		t.Fatalf("expected 1 error detail, got %d", len(summary.ErrorDetails))
	}
	if summary.ErrorDetails[0].CameraSourceID != "BKAV" {
		t.Errorf("camera source should flow into the detail, got %q", summary.ErrorDetails[0].CameraSourceID)
	}
}

func TestSummary_RetryCommandsStayOutOfBuckets(t *testing.T) {
	run := &domain.DagRun{
		ID:           uuid.New(),
		AirflowDagID: "collect_tl",
		Status:       domain.DagRunStatusRunning,
		StartTime:    time.Now().UTC(),
	}
	cmds := []domain.Command{
		{ID: uuid.New(), DagRunID: run.ID, Status: domain.CommandStatusCompleted},
		{ID: uuid.New(), DagRunID: run.ID, Status: domain.CommandStatusRetry},
	}

	summary := buildSummary(run, cmds, time.Now().UTC())

	if summary.CompletedCommands != 1 || summary.ErrorCommands != 0 || summary.TimeoutCommands != 0 {
		t.Errorf("retry command should not land in any bucket: %+v", summary)
	}
	if len(summary.ErrorDetails) != 0 {
		t.Errorf("retry command should not produce an error detail, got %d", len(summary.ErrorDetails))
	}
}

func TestSummary_ZeroCommands(t *testing.T) {
	run := &domain.DagRun{
		ID:            uuid.New(),
		AirflowDagID:  "collect_tl",
		Status:        domain.DagRunStatusSuccess,
		StartTime:     time.Now().UTC(),
		ExecutionDate: time.Now().UTC(),
	}
	summary := buildSummary(run, nil, time.Now().UTC())

	if summary.SuccessRate != 0 {
		t.Errorf("success rate of empty run should be 0, got %f", summary.SuccessRate)
	}
	if summary.ErrorDetails == nil {
		t.Error("error details should be an empty slice, not nil")
	}
}

func TestSummary_NotifierFailureDoesNotFail(t *testing.T) {
	runs := newFakeRunStore()
	commands := newFakeCommandStore()
	notifier := &fakeNotifier{fail: errors.New("webhook down")}
	svc := newTestService(runs, commands, &fakeCatalog{lights: testLights()}, &fakeBus{}, notifier)
	svc.TriggerCollectLights(context.Background(), "collect_tl", "run_1")

	summary, err := svc.SummarizeAndNotify(context.Background(), "collect_tl", "run_1", nil)
	if err != nil {
		t.Fatalf("notifier failure should not fail summary: %v", err)
	}
	if summary == nil {
		t.Fatal("summary should still be returned")
	}
}
