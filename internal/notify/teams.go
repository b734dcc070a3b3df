// Package notify отправляет уведомления в Microsoft Teams через
// incoming webhook в формате MessageCard.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/scheduler"
)

// Цвета карточек (themeColor MessageCard).
const (
	colorSuccess = "2DC72D"
	colorWarning = "F8C51B"
	colorError   = "D63333"
)

// messageCard — минимальный MessageCard, который понимает Teams webhook.
type messageCard struct {
	Type       string        `json:"@type"`
	Context    string        `json:"@context"`
	ThemeColor string        `json:"themeColor"`
	Summary    string        `json:"summary"`
	Title      string        `json:"title"`
	Sections   []cardSection `json:"sections,omitempty"`
}

type cardSection struct {
	ActivityTitle string     `json:"activityTitle,omitempty"`
	Text          string     `json:"text,omitempty"`
	Facts         []cardFact `json:"facts,omitempty"`
}

type cardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Teams шлёт карточки в один incoming webhook.
type Teams struct {
	webhookURL string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewTeams создаёт notifier. webhookURL обязателен: с пустым URL
// notifier создавать не нужно, вызывающий код оставляет nil.
func NewTeams(webhookURL string, logger *slog.Logger) *Teams {
	return &Teams{
		webhookURL: webhookURL,
		logger:     logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendJobSummary отправляет итоговую сводку run'а. Webhook один на
// notifier, поэтому notify_to из запроса попадает в карточку фактом —
// маршрутизация по каналам остаётся на стороне Teams.
func (t *Teams) SendJobSummary(ctx context.Context, summary *scheduler.Summary, notifyTo []string) error {
	color := colorSuccess
	if summary.Status != string(domain.DagRunStatusSuccess) {
		color = colorError
	} else if summary.ErrorCommands > 0 || summary.TimeoutCommands > 0 {
		color = colorWarning
	}

	facts := []cardFact{
		{Name: "Duration", Value: summary.Duration},
		{Name: "Commands", Value: fmt.Sprintf("%d total, %d completed", summary.TotalCommands, summary.CompletedCommands)},
		{Name: "Errors", Value: fmt.Sprintf("%d failed, %d timed out", summary.ErrorCommands, summary.TimeoutCommands)},
		{Name: "Success rate", Value: fmt.Sprintf("%.1f%%", summary.SuccessRate)},
	}
	if len(notifyTo) > 0 {
		facts = append(facts, cardFact{Name: "Notify", Value: strings.Join(notifyTo, ", ")})
	}

	card := messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Summary:    fmt.Sprintf("Collection %s: %s", summary.DagRunID, summary.Status),
		Title:      fmt.Sprintf("Traffic light collection — %s", summary.Status),
		Sections: []cardSection{
			{
				ActivityTitle: fmt.Sprintf("%s / %s", summary.DagID, summary.DagRunID),
				Facts:         facts,
			},
		},
	}

	if len(summary.ErrorDetails) > 0 {
		card.Sections = append(card.Sections, errorSection(summary.ErrorDetails))
	}
	return t.send(ctx, &card)
}

// SendCommandError отправляет карточку об ошибке анализа одной команды.
func (t *Teams) SendCommandError(ctx context.Context, cmd *domain.Command) error {
	card := messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: colorError,
		Summary:    fmt.Sprintf("Collection error %s", cmd.ReasonCode),
		Title:      fmt.Sprintf("Traffic light %d — %s", cmd.LightID, cmd.ReasonCode),
		Sections: []cardSection{
			{
				Facts: []cardFact{
					{Name: "Command", Value: cmd.ID.String()},
					{Name: "Camera", Value: cmd.CameraID},
					{Name: "Reason", Value: cmd.Reason},
				},
			},
		},
	}
	return t.send(ctx, &card)
}

// errorSection сворачивает неуспешные команды в одну секцию карточки.
func errorSection(details []scheduler.ErrorDetail) cardSection {
	facts := make([]cardFact, 0, len(details))
	for _, d := range details {
		facts = append(facts, cardFact{
			Name:  fmt.Sprintf("Light %d", d.LightID),
			Value: fmt.Sprintf("%s %s: %s", d.Status, d.ReasonCode, d.Reason),
		})
	}
	return cardSection{Text: "Failed commands", Facts: facts}
}

// send сериализует карточку и постит её в webhook.
func (t *Teams) send(ctx context.Context, card *messageCard) error {
	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}

	t.logger.Debug("notification sent", "title", card.Title)
	return nil
}
