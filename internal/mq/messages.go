package mq

import "encoding/json"

// Значения по умолчанию для команды на сбор.
// 1 кадр в секунду в течение трёх минут — столько pipeline снимает
// с камеры, чтобы поймать полный цикл светофора.
const (
	DefaultCameraSource         = "CCTV"
	DefaultFramesInSecond       = 1
	DefaultDurationExtractFrame = 180
)

// CollectionMessage — команда на сбор, как её читает внешний pipeline.
// Имена полей зафиксированы контрактом pipeline — не переименовывать.
type CollectionMessage struct {
	// SeqId — correlation id: совпадает с id команды и возвращается
	// в результате.
	SeqID string `json:"SeqId"`

	// Id — идентификатор светофора.
	ID int `json:"Id"`

	// Type — тип цели, всегда "Light".
	Type string `json:"Type"`

	CameraSource string `json:"CameraSource"`
	CameraID     string `json:"CameraId"`
	CameraLiveURL string `json:"CameraLiveUrl"`
	CameraName   string `json:"CameraName"`

	FramesInSecond       int `json:"FramesInSecond"`
	DurationExtractFrame int `json:"DurationExtractFrame"`

	Bboxes        [][][]int   `json:"Bboxes"`
	TimestampBBox [][]float64 `json:"TimestampBBox"`
}

// ResultMessage — асинхронный результат анализа от pipeline.
//
// Доставка at-least-once: дубликаты и произвольный порядок — норма.
// Id здесь строковый (так шлёт pipeline), это id светофора.
type ResultMessage struct {
	SeqID string `json:"SeqId"`
	ID    string `json:"Id"`
	Type  string `json:"Type"`

	CameraSource string `json:"CameraSource"`
	CameraName   string `json:"CameraName"`

	Status     string `json:"Status"`
	ReasonCode string `json:"ReasonCode"`
	Reason     string `json:"Reason"`

	// Data — timing-блок цикла светофора. Nil при ошибке анализа.
	Data *CycleData `json:"Data,omitempty"`
}

// CycleData — измеренные фазы цикла светофора.
type CycleData struct {
	RedTime    int `json:"RedTime"`
	GreenTime  int `json:"GreenTime"`
	YellowTime int `json:"YellowTime"`

	// CycleStartTimestamp — человекочитаемое время ("10.Mar.2025 16:19:39").
	CycleStartTimestamp string `json:"CycleStartTimestamp"`

	// CycleStartUnixTimestamp — unix-время начала цикла в миллисекундах.
	CycleStartUnixTimestamp int64 `json:"CycleStartUnixTimestamp"`

	TimeTick   int     `json:"TimeTick"`
	Confidence float64 `json:"Confidence"`
}

// RawData возвращает Data как сырой JSON для журнала.
// Nil, если timing-блока не было.
func (m *ResultMessage) RawData() json.RawMessage {
	if m.Data == nil {
		return nil
	}
	raw, err := json.Marshal(m.Data)
	if err != nil {
		return nil
	}
	return raw
}
