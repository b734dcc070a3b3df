package domain

// Light — светофор из каталога целей.
//
// Для fan-out выбираются только главные светофоры (MainLightID == nil):
// подчинённые дублируют камеру главного и собираются вместе с ним.
type Light struct {
	// ID — идентификатор светофора.
	ID int `json:"id"`

	// Name — человекочитаемое имя (перекрёсток).
	Name string `json:"name"`

	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Heading   int     `json:"heading"`

	// CameraID и CameraLiveURL — камера, с которой идёт видео.
	CameraID      string `json:"camera_id"`
	CameraLiveURL string `json:"camera_live_url"`

	// CameraSourceID — источник камеры (CCTV и т.п.).
	CameraSourceID string `json:"camera_source_id,omitempty"`

	// MainLightID — ссылка на главный светофор. Nil у главных.
	MainLightID *int `json:"main_light_id,omitempty"`

	// Bboxes — области детекции на кадре. Светофор без bboxes
	// пропускается при fan-out и не попадает в TotalCommands.
	Bboxes [][][]int `json:"bboxes,omitempty"`

	// TimestampBBox — область с таймкодом на кадре.
	TimestampBBox [][]float64 `json:"timestampBBox,omitempty"`
}

// IsMain возвращает true для главного светофора.
func (l *Light) IsMain() bool {
	return l.MainLightID == nil
}

// HasBboxes возвращает true, если у светофора задана хотя бы одна
// область детекции — без неё pipeline не сможет обработать видео.
func (l *Light) HasBboxes() bool {
	return len(l.Bboxes) > 0
}
