package mq

import (
	"encoding/json"
	"testing"
)

// Имена полей — контракт внешнего pipeline. Тест ловит случайное
// переименование тегов.
func TestCollectionMessage_WireFieldNames(t *testing.T) {
	msg := CollectionMessage{
		SeqID:                "seq-1",
		ID:                   42,
		Type:                 "Light",
		CameraSource:         DefaultCameraSource,
		CameraID:             "cam-42",
		CameraLiveURL:        "rtsp://cam",
		CameraName:           "Crossing",
		FramesInSecond:       DefaultFramesInSecond,
		DurationExtractFrame: DefaultDurationExtractFrame,
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{
		"SeqId", "Id", "Type", "CameraSource", "CameraId", "CameraLiveUrl",
		"CameraName", "FramesInSecond", "DurationExtractFrame", "Bboxes", "TimestampBBox",
	} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing wire field %q", key)
		}
	}
}

func TestResultMessage_ParsesPipelinePayload(t *testing.T) {
	raw := []byte(`{
		"SeqId": "7e3b8f3a-1111-2222-3333-444455556666",
		"Id": "42",
		"Type": "Light",
		"CameraSource": "CCTV",
		"Status": "Active",
		"ReasonCode": "",
		"Reason": "",
		"Data": {
			"RedTime": 30,
			"GreenTime": 25,
			"YellowTime": 3,
			"CycleStartTimestamp": "10.Mar.2025 16:19:39",
			"CycleStartUnixTimestamp": 1741623579000,
			"TimeTick": 58,
			"Confidence": 0.97
		}
	}`)

	var msg ResultMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}

	if msg.SeqID != "7e3b8f3a-1111-2222-3333-444455556666" {
		t.Errorf("bad SeqId: %q", msg.SeqID)
	}
	if msg.Data == nil || msg.Data.RedTime != 30 || msg.Data.CycleStartUnixTimestamp != 1741623579000 {
		t.Errorf("bad timing data: %+v", msg.Data)
	}
	if msg.RawData() == nil {
		t.Error("RawData should return the timing block")
	}

	// Ошибочный результат без Data.
	var failed ResultMessage
	if err := json.Unmarshal([]byte(`{"SeqId":"x","ReasonCode":"ERR_NO_TL"}`), &failed); err != nil {
		t.Fatal(err)
	}
	if failed.RawData() != nil {
		t.Error("RawData of a failed result should be nil")
	}
}
