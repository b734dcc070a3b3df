package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Semaphore/internal/domain"
)

// LightRepo — каталог светофоров.
type LightRepo struct {
	pool *pgxpool.Pool
}

// NewLightRepo создаёт новый LightRepo.
func NewLightRepo(pool *pgxpool.Pool) *LightRepo {
	return &LightRepo{pool: pool}
}

const lightColumns = `
	id, name, lat, lng, heading, camera_id, camera_live_url,
	camera_source_id, main_light_id, bboxes, timestamp_bbox
`

// ListMainLights возвращает главные светофоры (main_light_id IS NULL) —
// именно они участвуют в fan-out.
func (r *LightRepo) ListMainLights(ctx context.Context) ([]domain.Light, error) {
	query := `
		SELECT ` + lightColumns + `
		FROM lights
		WHERE main_light_id IS NULL
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list main lights: %w", err)
	}
	defer rows.Close()

	var lights []domain.Light
	for rows.Next() {
		light, err := scanLight(rows)
		if err != nil {
			return nil, err
		}
		lights = append(lights, *light)
	}
	return lights, rows.Err()
}

// GetByID возвращает светофор по id.
func (r *LightRepo) GetByID(ctx context.Context, id int) (*domain.Light, error) {
	query := `
		SELECT ` + lightColumns + `
		FROM lights
		WHERE id = $1
	`
	return scanLight(r.pool.QueryRow(ctx, query, id))
}

// scanLight сканирует строку в Light.
func scanLight(row pgx.Row) (*domain.Light, error) {
	var light domain.Light
	var cameraSourceID *string
	var bboxesJSON, timestampJSON []byte

	err := row.Scan(
		&light.ID,
		&light.Name,
		&light.Latitude,
		&light.Longitude,
		&light.Heading,
		&light.CameraID,
		&light.CameraLiveURL,
		&cameraSourceID,
		&light.MainLightID,
		&bboxesJSON,
		&timestampJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan light: %w", err)
	}

	if cameraSourceID != nil {
		light.CameraSourceID = *cameraSourceID
	}
	if bboxesJSON != nil {
		if err := json.Unmarshal(bboxesJSON, &light.Bboxes); err != nil {
			return nil, fmt.Errorf("unmarshal bboxes: %w", err)
		}
	}
	if timestampJSON != nil {
		if err := json.Unmarshal(timestampJSON, &light.TimestampBBox); err != nil {
			return nil, fmt.Errorf("unmarshal timestamp bbox: %w", err)
		}
	}
	return &light, nil
}
