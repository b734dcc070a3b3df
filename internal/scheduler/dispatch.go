package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/mq"
	"github.com/shaiso/Semaphore/internal/repo"
	"github.com/shaiso/Semaphore/internal/telemetry"
)

// dispatch рассылает команды по главным светофорам run'а.
//
// Светофор без bboxes пропускается: pipeline'у нечего детектировать,
// команда по нему не создаётся и в TotalCommands не попадает.
//
// Порядок publish-then-persist: сообщение сначала уходит в шину и лишь
// потом команда пишется в store. Сбой между шагами оставляет "сироту"
// в шине — её результат ingest отбросит как неизвестный SeqId.
func (s *Service) dispatch(ctx context.Context, run *domain.DagRun, lights []domain.Light) ([]*domain.Command, error) {
	logger := telemetry.WithDagRunID(s.logger, run.ID.String())
	now := run.StartTime

	commands := make([]*domain.Command, 0, len(lights))
	for i := range lights {
		light := &lights[i]
		if !light.HasBboxes() {
			telemetry.WithLightID(logger, light.ID).Debug("light has no bboxes, skipping")
			continue
		}

		cmd := domain.NewCommand(run, light, now)
		if err := s.bus.PublishCollection(ctx, collectionMessage(cmd, light)); err != nil {
			return nil, fmt.Errorf("publish collection for light %d: %w", light.ID, err)
		}
		commands = append(commands, cmd)
	}

	if err := s.commands.CreateBatch(ctx, commands); err != nil {
		// Повтор после частичной вставки упирается в конфликт по id —
		// уже вставленные команды на месте, это не сбой.
		if !errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("persist commands: %w", err)
		}
	}
	return commands, nil
}

// collectionMessage собирает bus-сообщение команды из светофора.
func collectionMessage(cmd *domain.Command, light *domain.Light) *mq.CollectionMessage {
	source := light.CameraSourceID
	if source == "" {
		source = mq.DefaultCameraSource
	}
	return &mq.CollectionMessage{
		SeqID:                cmd.ID.String(),
		ID:                   light.ID,
		Type:                 "Light",
		CameraSource:         source,
		CameraID:             light.CameraID,
		CameraLiveURL:        light.CameraLiveURL,
		CameraName:           light.Name,
		FramesInSecond:       mq.DefaultFramesInSecond,
		DurationExtractFrame: mq.DefaultDurationExtractFrame,
		Bboxes:               light.Bboxes,
		TimestampBBox:        light.TimestampBBox,
	}
}
